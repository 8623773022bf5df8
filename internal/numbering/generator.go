// Package numbering allocates human-readable document numbers of the form
// {seq}/{DOC}/{ORG}/{romanMonth}/{year}. Sequences restart every month.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/karoseri/quotedesk/internal/shared"
)

// ErrNumberTaken signals that a candidate number is already persisted.
// Claim callbacks return it when their insert hits the unique constraint.
var ErrNumberTaken = errors.New("numbering: number taken")

// Store reads the numbers already issued.
type Store interface {
	ListNumbers(ctx context.Context, doc DocType, suffix string) ([]string, error)
	Exists(ctx context.Context, doc DocType, number string) (bool, error)
}

// Recorder observes allocation outcomes.
type Recorder interface {
	ObserveAllocation(doc DocType, attempts int, err error)
}

// Config tunes the generator.
type Config struct {
	OrgCode     string
	MaxAttempts int
	Backoff     time.Duration
	Location    *time.Location
}

// Generator hands out document numbers.
type Generator struct {
	store    Store
	cfg      Config
	recorder Recorder
	logger   *slog.Logger
}

// NewGenerator constructs a Generator. recorder may be nil.
func NewGenerator(store Store, cfg Config, recorder Recorder, logger *slog.Logger) *Generator {
	cfg.OrgCode = strings.ToUpper(strings.TrimSpace(cfg.OrgCode))
	if cfg.OrgCode == "" {
		cfg.OrgCode = "KAR"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 20 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: store, cfg: cfg, recorder: recorder, logger: logger}
}

// OrgCode returns the organization segment in use.
func (g *Generator) OrgCode() string {
	return g.cfg.OrgCode
}

// Next returns the next free number for doc in the month of at.
func (g *Generator) Next(ctx context.Context, doc DocType, at time.Time) (string, error) {
	return g.Allocate(ctx, doc, at, nil)
}

// Allocate computes a candidate and hands it to claim, which persists the owning
// document. When claim returns ErrNumberTaken the candidate is recomputed after a
// jittered pause, up to MaxAttempts; exhaustion yields shared.ErrSequenceConflict.
// Each claim call must run in its own transaction.
func (g *Generator) Allocate(ctx context.Context, doc DocType, at time.Time, claim func(ctx context.Context, number string) error) (string, error) {
	if !doc.Valid() {
		return "", shared.Validationf("unknown document type %q", doc)
	}
	at = at.In(g.cfg.Location)

	backoff := retry.NewConstant(g.cfg.Backoff)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithMaxRetries(uint64(g.cfg.MaxAttempts-1), backoff)

	var (
		number   string
		attempts int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		candidate, err := g.candidate(ctx, doc, at)
		if err != nil {
			if errors.Is(err, ErrNumberTaken) {
				return retry.RetryableError(err)
			}
			return err
		}
		if claim != nil {
			if err := claim(ctx, candidate); err != nil {
				if errors.Is(err, ErrNumberTaken) {
					g.logger.Debug("number collision", slog.String("number", candidate), slog.Int("attempt", attempts))
					return retry.RetryableError(err)
				}
				return err
			}
		}
		number = candidate
		return nil
	})
	if g.recorder != nil {
		g.recorder.ObserveAllocation(doc, attempts, err)
	}
	if err != nil {
		if errors.Is(err, ErrNumberTaken) {
			g.logger.Warn("number allocation exhausted", slog.String("doc", string(doc)), slog.Int("attempts", attempts))
			return "", fmt.Errorf("%w: %s number after %d attempts", shared.ErrSequenceConflict, doc, attempts)
		}
		return "", err
	}
	return number, nil
}

func (g *Generator) candidate(ctx context.Context, doc DocType, at time.Time) (string, error) {
	suffix := Suffix(doc, g.cfg.OrgCode, at)
	existing, err := g.store.ListNumbers(ctx, doc, suffix)
	if err != nil {
		return "", fmt.Errorf("numbering: list %s: %w", doc, err)
	}
	candidate := Format(MaxSequence(existing, suffix)+1, doc, g.cfg.OrgCode, at)
	taken, err := g.store.Exists(ctx, doc, candidate)
	if err != nil {
		return "", fmt.Errorf("numbering: check %s: %w", candidate, err)
	}
	if taken {
		return "", ErrNumberTaken
	}
	return candidate, nil
}
