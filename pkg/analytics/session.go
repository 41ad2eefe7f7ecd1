package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionWindow is the inactivity period after which a new session starts.
const SessionWindow = 10 * time.Minute

// DefaultNamespace prefixes the storage key of the session record.
const DefaultNamespace = "sundew"

// StorageKey returns the key the session record is stored under.
func StorageKey(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + "-search-analytics"
}

// Session is the persisted session record.
type Session struct {
	SessionID string `json:"sessionId"`
	// TimeAccessed is in Unix milliseconds.
	TimeAccessed int64 `json:"timeAccessed"`
}

// LastAccessed returns TimeAccessed as a time.Time.
func (s Session) LastAccessed() time.Time {
	return time.UnixMilli(s.TimeAccessed)
}

// SessionStore hands out the current session id, rotating it after
// SessionWindow of inactivity. Every access refreshes the stored timestamp.
//
// The read-modify-write on storage is not atomic. Two stores sharing one
// storage may race; the last writer wins.
type SessionStore struct {
	storage Storage
	key     string
	now     func() time.Time
	newID   func() string
}

// NewSessionStore creates a SessionStore keeping its record in storage under
// StorageKey(namespace).
func NewSessionStore(storage Storage, namespace string) *SessionStore {
	return &SessionStore{
		storage: storage,
		key:     StorageKey(namespace),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Key returns the storage key in use.
func (s *SessionStore) Key() string {
	return s.key
}

// Touch returns the current session, starting a new one when none is stored
// or the stored one has been idle for SessionWindow or longer, and records
// the access. The returned session is always usable; a non-nil error reports
// a storage problem that prevented reading or persisting it.
func (s *SessionStore) Touch() (Session, error) {
	now := s.now()

	var (
		prev    Session
		found   bool
		readErr error
	)
	raw, ok, err := s.storage.Get(s.key)
	switch {
	case err != nil:
		readErr = fmt.Errorf("failed to read session: %w", err)
	case ok && raw != "":
		if err = json.Unmarshal([]byte(raw), &prev); err != nil {
			readErr = fmt.Errorf("failed to parse session: %w", err)
		} else {
			found = prev.SessionID != ""
		}
	}

	next := Session{SessionID: prev.SessionID, TimeAccessed: now.UnixMilli()}
	if !found || now.Sub(prev.LastAccessed()) >= SessionWindow {
		next.SessionID = s.newID()
	}

	data, err := json.Marshal(next)
	if err != nil {
		return next, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err = s.storage.Set(s.key, string(data)); err != nil {
		return next, fmt.Errorf("failed to store session: %w", err)
	}
	return next, readErr
}
