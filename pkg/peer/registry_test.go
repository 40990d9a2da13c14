package peer

import (
	"testing"

	"github.com/dbehnke/hbp-server/pkg/protocol"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()

	s := r.Add(312100, testAddr(54001), [4]byte{1, 2, 3, 4})
	if s == nil {
		t.Fatal("Add returned nil")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Count())
	}

	if got := r.Get(312100); got != s {
		t.Error("Get returned a different session")
	}
	if r.Get(999999) != nil {
		t.Error("Expected nil for unknown ID")
	}

	removed := r.Remove(312100)
	if removed != s {
		t.Error("Remove returned a different session")
	}
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
	if r.Remove(312100) != nil {
		t.Error("Removing an unknown ID must return nil")
	}
}

func TestRegistry_AddReplacesExisting(t *testing.T) {
	r := NewRegistry()

	old := r.Add(312100, testAddr(54001), [4]byte{1, 1, 1, 1})
	old.SetAuthenticated()

	fresh := r.Add(312100, testAddr(54001), [4]byte{2, 2, 2, 2})
	if fresh == old {
		t.Fatal("Re-login must create a fresh session")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Count())
	}
	if got := r.Get(312100); got != fresh || got.Authenticated() {
		t.Error("Registry must hold the fresh unauthenticated session")
	}
}

func TestRegistry_SameAddress(t *testing.T) {
	r := NewRegistry()
	r.Add(312100, testAddr(54001), [4]byte{})

	if !r.SameAddress(312100, testAddr(54001)) {
		t.Error("Expected address match")
	}
	if r.SameAddress(312100, testAddr(54002)) {
		t.Error("Different port must not match")
	}
	if r.SameAddress(999999, testAddr(54001)) {
		t.Error("Unknown ID must not match")
	}
}

func TestRegistry_Connected(t *testing.T) {
	r := NewRegistry()

	a := r.Add(1, testAddr(1), [4]byte{})
	b := r.Add(2, testAddr(2), [4]byte{})
	r.Add(3, testAddr(3), [4]byte{})

	a.SetAuthenticated()
	a.SetConfig(nil, &protocol.RPTCPacket{Callsign: "W1ABC"}, TypeUnknown)
	b.SetAuthenticated()

	connected := r.Connected()
	if len(connected) != 1 || connected[0].ID != 1 {
		t.Errorf("Expected only peer 1 connected, got %d sessions", len(connected))
	}

	if got := len(r.All()); got != 3 {
		t.Errorf("Expected 3 total sessions, got %d", got)
	}
}
