package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionManager resolves sessions issued by the identity service. Sessions
// live in Redis under session:<id>; the id arrives either as a cookie or as a
// bearer token.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
}

// Session holds the resolved identity for one request.
type Session struct {
	ID     string
	UserID int64
	values map[string]string
}

type sessionPayload struct {
	Values map[string]string `json:"values"`
	UserID string            `json:"user_id"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration) *SessionManager {
	return &SessionManager{client: client, cookieName: cookieName, ttl: ttl}
}

// Load returns the session bound to the request, or nil when the request is anonymous
// or the session has expired.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	id := sm.sessionID(r)
	if id == "" {
		return nil, nil
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(stored.UserID), 10, 64)
	if err != nil || userID <= 0 {
		return nil, nil
	}
	if sm.ttl > 0 {
		// sliding expiry; a failed refresh only shortens the session
		_ = sm.client.Expire(ctx, sm.redisKey(id), sm.ttl).Err()
	}
	return &Session{ID: id, UserID: userID, values: stored.Values}, nil
}

// Store writes a session for userID. The identity service owns this in
// production; the seed tool and tests use it to mint sessions.
func (sm *SessionManager) Store(ctx context.Context, id string, userID int64) error {
	data, err := json.Marshal(sessionPayload{UserID: strconv.FormatInt(userID, 10)})
	if err != nil {
		return err
	}
	return sm.client.Set(ctx, sm.redisKey(id), data, sm.ttl).Err()
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Get retrieves a value carried by the session.
func (s *Session) Get(key string) string {
	if s == nil || s.values == nil {
		return ""
	}
	return s.values[key]
}

func (sm *SessionManager) sessionID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}
