// Package attachments removes offer note images that no surviving offer
// references any more.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// CleanupResult counts what a cleanup pass did.
type CleanupResult struct {
	DeletedCount int `json:"deleted_count"`
	KeptCount    int `json:"kept_count"`
}

// ReferenceChecker reports whether any stored offer still points at ref.
type ReferenceChecker interface {
	Referenced(ctx context.Context, ref string) (bool, error)
}

// ObjectStore deletes stored image objects.
type ObjectStore interface {
	Delete(ctx context.Context, ref string) error
}

// Cleaner deletes orphaned images.
type Cleaner struct {
	refs   ReferenceChecker
	store  ObjectStore
	logger *slog.Logger
}

// NewCleaner constructs a Cleaner.
func NewCleaner(refs ReferenceChecker, store ObjectStore, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{refs: refs, store: store, logger: logger}
}

// CleanupOrphans deletes every ref in refs that no offer references. It keeps
// going past individual failures and returns them joined alongside the counts.
func (c *Cleaner) CleanupOrphans(ctx context.Context, refs []string) (CleanupResult, error) {
	var (
		result CleanupResult
		errs   []error
	)
	for _, ref := range Dedupe(refs) {
		used, err := c.refs.Referenced(ctx, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", ref, err))
			continue
		}
		if used {
			result.KeptCount++
			continue
		}
		if err := c.store.Delete(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", ref, err))
			continue
		}
		result.DeletedCount++
	}
	if len(errs) > 0 {
		c.logger.Warn("image cleanup incomplete",
			slog.Int("deleted", result.DeletedCount),
			slog.Int("kept", result.KeptCount),
			slog.Int("failed", len(errs)))
	}
	return result, errors.Join(errs...)
}

// Dedupe trims refs and drops blanks and repeats, keeping first-seen order.
func Dedupe(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
