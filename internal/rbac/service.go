package rbac

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"
)

// PermissionSource loads the permission names granted to a user through roles.
type PermissionSource interface {
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
}

// Service resolves capabilities with a short-lived per-user cache. Concurrent
// lookups for the same user share one query.
type Service struct {
	source PermissionSource
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time

	mu    sync.Mutex
	cache map[int64]cachedPermissions
}

type cachedPermissions struct {
	names   []string
	expires time.Time
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool, ttl time.Duration) *Service {
	return NewServiceWithSource(pgSource{pool: pool}, ttl)
}

// NewServiceWithSource constructs a Service over an arbitrary source.
func NewServiceWithSource(source PermissionSource, ttl time.Duration) *Service {
	return &Service{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[int64]cachedPermissions),
	}
}

// EffectivePermissions returns the lower-cased permission names of userID.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if names, ok := s.cached(userID); ok {
		return names, nil
	}
	v, err, _ := s.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		names, err := s.source.UserPermissions(ctx, userID)
		if err != nil {
			return nil, err
		}
		for i := range names {
			names[i] = strings.ToLower(strings.TrimSpace(names[i]))
		}
		s.store(userID, names)
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// HasCapability reports whether userID holds perm.
func (s *Service) HasCapability(ctx context.Context, userID int64, perm string) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAnyPermission(granted, []string{strings.ToLower(perm)}), nil
}

// Invalidate drops the cached permissions of userID.
func (s *Service) Invalidate(userID int64) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

func (s *Service) cached(userID int64) ([]string, bool) {
	if s.ttl <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[userID]
	if !ok || s.now().After(entry.expires) {
		return nil, false
	}
	return entry.names, true
}

func (s *Service) store(userID int64, names []string) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.cache[userID] = cachedPermissions{names: names, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
}

type pgSource struct {
	pool *pgxpool.Pool
}

func (p pgSource) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT p.name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
JOIN users u ON u.id = ur.user_id
WHERE ur.user_id = $1 AND u.is_active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
