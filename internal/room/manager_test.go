package room

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func newManager() *Manager {
	return NewManager(zerolog.Nop())
}

func TestCreateAndPartner(t *testing.T) {
	m := newManager()

	r, err := m.Create("a", "b")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if r.ID == "" {
		t.Error("Create() returned empty room id")
	}

	if _, partner, ok := m.PartnerOf("a"); !ok || partner != "b" {
		t.Errorf("PartnerOf(a) = %q, %v", partner, ok)
	}
	if _, partner, ok := m.PartnerOf("b"); !ok || partner != "a" {
		t.Errorf("PartnerOf(b) = %q, %v", partner, ok)
	}
	if _, _, ok := m.PartnerOf("c"); ok {
		t.Error("PartnerOf(c) found a room for a stranger")
	}
	if n := m.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestCreateRefusesDoublePairing(t *testing.T) {
	m := newManager()
	m.Create("a", "b")

	if _, err := m.Create("a", "c"); !errors.Is(err, ErrAlreadyRoomed) {
		t.Errorf("Create(a, c) error = %v, want ErrAlreadyRoomed", err)
	}
	if _, err := m.Create("c", "b"); !errors.Is(err, ErrAlreadyRoomed) {
		t.Errorf("Create(c, b) error = %v, want ErrAlreadyRoomed", err)
	}
	if _, err := m.Create("d", "d"); !errors.Is(err, ErrAlreadyRoomed) {
		t.Errorf("Create(d, d) error = %v, want ErrAlreadyRoomed", err)
	}
	if n := m.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := newManager()
	r, _ := m.Create("a", "b")

	roomID, partner, ok := m.Remove("a")
	if !ok || roomID != r.ID || partner != "b" {
		t.Errorf("Remove(a) = %q, %q, %v", roomID, partner, ok)
	}
	if n := m.Count(); n != 0 {
		t.Errorf("Count() after remove = %d, want 0", n)
	}

	// Double-disconnect: second teardown from either side is a no-op.
	if _, _, ok := m.Remove("a"); ok {
		t.Error("second Remove(a) reported ok")
	}
	if _, _, ok := m.Remove("b"); ok {
		t.Error("Remove(b) after teardown reported ok")
	}

	// Both sessions are free to pair again.
	if _, err := m.Create("a", "c"); err != nil {
		t.Errorf("Create(a, c) after teardown: error = %v", err)
	}
	if _, err := m.Create("b", "d"); err != nil {
		t.Errorf("Create(b, d) after teardown: error = %v", err)
	}
}
