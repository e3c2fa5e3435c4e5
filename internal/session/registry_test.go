package session

import (
	"errors"
	"testing"

	"github.com/pairlink/pairlink/internal/protocol"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	s, err := r.Register("conn-1", protocol.UserSession{UserID: "anon-1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if s.ID != "conn-1" || s.UserID != "anon-1" {
		t.Errorf("Register() = %+v", s)
	}
	if s.ConnectedAt.IsZero() {
		t.Error("Register() did not stamp ConnectedAt")
	}

	if _, err := r.Register("conn-1", protocol.UserSession{UserID: "anon-2"}); !errors.Is(err, ErrDuplicateRegistration) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateRegistration", err)
	}

	got, ok := r.Lookup("conn-1")
	if !ok || got.UserID != "anon-1" {
		t.Errorf("Lookup() = %+v, %v", got, ok)
	}
	if _, ok := r.Lookup("conn-2"); ok {
		t.Error("Lookup() found unregistered session")
	}

	if n := r.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	r.Remove("conn-1")
	r.Remove("conn-1") // idempotent
	if _, ok := r.Lookup("conn-1"); ok {
		t.Error("Lookup() found removed session")
	}
	if n := r.Count(); n != 0 {
		t.Errorf("Count() after remove = %d, want 0", n)
	}
}

func TestUpdatePreferences(t *testing.T) {
	r := NewRegistry()
	r.Register("conn-1", protocol.UserSession{UserID: "anon-1"})

	r.UpdatePreferences("conn-1", protocol.Preferences{VideoEnabled: true, Interests: []string{"music"}})
	got, _ := r.Lookup("conn-1")
	if !got.Preferences.VideoEnabled || len(got.Preferences.Interests) != 1 {
		t.Errorf("preferences not updated: %+v", got.Preferences)
	}

	// Lookup returns a copy; mutating it must not affect the registry.
	got.Preferences.VideoEnabled = false
	again, _ := r.Lookup("conn-1")
	if !again.Preferences.VideoEnabled {
		t.Error("Lookup() leaked a mutable reference")
	}

	r.UpdatePreferences("ghost", protocol.Preferences{}) // no-op
}
