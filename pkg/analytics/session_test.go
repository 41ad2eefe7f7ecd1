package analytics

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestSessionStore(storage Storage) (*SessionStore, *fakeClock) {
	clock := newFakeClock()
	s := NewSessionStore(storage, "test")
	s.now = clock.Now
	s.newID = sequentialIDs()
	return s, clock
}

func TestSessionStore_Rotation(t *testing.T) {
	tests := []struct {
		name    string
		gap     time.Duration
		rotated bool
	}{
		{"immediately", 0, false},
		{"just under window", SessionWindow - time.Millisecond, false},
		{"exactly window", SessionWindow, true},
		{"well past window", 3 * SessionWindow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clock := newTestSessionStore(NewMemoryStorage())
			first, err := s.Touch()
			if err != nil {
				t.Fatalf("Touch failed: %v", err)
			}
			clock.Advance(tt.gap)
			second, err := s.Touch()
			if err != nil {
				t.Fatalf("Touch failed: %v", err)
			}
			if rotated := first.SessionID != second.SessionID; rotated != tt.rotated {
				t.Errorf("rotated = %v, want %v (first %s, second %s)", rotated, tt.rotated, first.SessionID, second.SessionID)
			}
		})
	}
}

func TestSessionStore_RefreshOnRead(t *testing.T) {
	storage := NewMemoryStorage()
	s, clock := newTestSessionStore(storage)

	first, _ := s.Touch()
	// Many accesses, each inside the window, keep the session alive far past
	// ten minutes in total.
	for i := 0; i < 5; i++ {
		clock.Advance(SessionWindow - time.Second)
		got, _ := s.Touch()
		if got.SessionID != first.SessionID {
			t.Fatalf("access %d rotated session to %s", i, got.SessionID)
		}
	}

	raw, ok, _ := storage.Get("test-search-analytics")
	if !ok {
		t.Fatal("session record missing from storage")
	}
	var stored Session
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored record is not JSON: %v", err)
	}
	if stored.TimeAccessed != clock.Now().UnixMilli() {
		t.Errorf("timeAccessed = %d, want %d", stored.TimeAccessed, clock.Now().UnixMilli())
	}
}

func TestSessionStore_CorruptRecord(t *testing.T) {
	storage := NewMemoryStorage()
	_ = storage.Set("test-search-analytics", "{not json")
	s, _ := newTestSessionStore(storage)

	got, err := s.Touch()
	if err == nil {
		t.Error("expected a parse error to be reported")
	}
	if got.SessionID == "" {
		t.Error("a usable session must be returned even for a corrupt record")
	}
	if again, err := s.Touch(); err != nil || again.SessionID != got.SessionID {
		t.Errorf("record should have been repaired, got %v / %v", again, err)
	}
}

func TestSessionStore_StorageFailure(t *testing.T) {
	s, _ := newTestSessionStore(failingStorage{})
	got, err := s.Touch()
	if err == nil {
		t.Error("expected storage error")
	}
	if got.SessionID == "" {
		t.Error("session id should still be minted")
	}
}

func TestStorageKey(t *testing.T) {
	if got := StorageKey(""); got != "sundew-search-analytics" {
		t.Errorf("StorageKey(\"\") = %q", got)
	}
	if got := StorageKey("acme"); got != "acme-search-analytics" {
		t.Errorf("StorageKey(\"acme\") = %q", got)
	}
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	fs := NewFileStorage(path)

	if _, ok, err := fs.Get("missing"); ok || err != nil {
		t.Fatalf("Get on missing file = ok %v, err %v", ok, err)
	}
	if err := fs.Set("a", "1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := fs.Set("b", "2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened := NewFileStorage(path)
	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, ok, err := reopened.Get(k)
		if err != nil || !ok || got != want {
			t.Errorf("Get(%q) = %q, %v, %v; want %q", k, got, ok, err, want)
		}
	}
}

func TestSessionStore_FileStorageSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	first, clock := newTestSessionStore(NewFileStorage(path))
	a, err := first.Touch()
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	second := NewSessionStore(NewFileStorage(path), "test")
	second.now = func() time.Time { return clock.Now().Add(time.Minute) }
	b, err := second.Touch()
	if err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if a.SessionID != b.SessionID {
		t.Errorf("session should survive a restart within the window: %s != %s", a.SessionID, b.SessionID)
	}
}
