package services

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"shiftbot/internal/models"

	"github.com/patrickmn/go-cache"
)

// SessionStore keeps one in-memory session per user.
// Sessions idle for longer than the TTL are dropped; nothing survives a restart.
type SessionStore struct {
	cache *cache.Cache
	ttl   time.Duration
	locks sync.Map // userID -> *sync.Mutex
}

// NewSessionStore creates a store whose sessions expire after ttl without activity
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := 10 * time.Minute
	if ttl > 0 && ttl < cleanup {
		cleanup = ttl
	}

	c := cache.New(ttl, cleanup)
	c.OnEvicted(func(key string, value interface{}) {
		if s, ok := value.(*models.Session); ok {
			slog.Debug("session evicted", "user_id", key, "work_started", s.WorkStarted)
		}
	})

	return &SessionStore{cache: c, ttl: ttl}
}

func sessionKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Lock serialises transitions for one user and returns the unlock function
func (s *SessionStore) Lock(userID int64) func() {
	value, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the user's session, or nil when none exists
func (s *SessionStore) Get(userID int64) *models.Session {
	value, ok := s.cache.Get(sessionKey(userID))
	if !ok {
		return nil
	}
	return value.(*models.Session)
}

// Put stores the session and refreshes its idle expiry
func (s *SessionStore) Put(session *models.Session) {
	s.cache.Set(sessionKey(session.UserID), session, cache.DefaultExpiration)
}

// Delete removes the user's session
func (s *SessionStore) Delete(userID int64) {
	s.cache.Delete(sessionKey(userID))
}

// Count returns the number of live sessions
func (s *SessionStore) Count() int {
	return s.cache.ItemCount()
}

// Snapshot returns copies of all live sessions
func (s *SessionStore) Snapshot() []*models.Session {
	items := s.cache.Items()
	sessions := make([]*models.Session, 0, len(items))
	for key := range items {
		userID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		unlock := s.Lock(userID)
		if session := s.Get(userID); session != nil {
			sessions = append(sessions, session.Clone())
		}
		unlock()
	}
	return sessions
}
