package peer

import (
	"net"
	"testing"
	"time"

	"github.com/dbehnke/hbp-server/pkg/policy"
	"github.com/dbehnke/hbp-server/pkg/protocol"
	"github.com/dbehnke/hbp-server/pkg/stream"
)

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: port}
}

func testSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(312100, testAddr(54001), [4]byte{1, 2, 3, 4})
	s.SetPolicy(policy.PeerConfig{
		Passphrase: "s3cret",
		Slot1TGs:   policy.NewTalkgroupSet([]uint32{1, 2, 3, 9}),
		Slot2TGs:   policy.Unrestricted(),
	}, "default")
	return s
}

func TestSession_Lifecycle(t *testing.T) {
	s := testSession(t)

	if s.State() != StateLogin {
		t.Errorf("New session must start in login, got %s", s.State())
	}

	s.SetAuthenticated()
	if s.State() != StateConfig || !s.Authenticated() {
		t.Errorf("After auth: state=%s authenticated=%v", s.State(), s.Authenticated())
	}

	s.SetConfig(make([]byte, protocol.RPTCPacketSize), &protocol.RPTCPacket{Callsign: "W1ABC"}, TypeHotspot)
	if s.State() != StateConnected {
		t.Errorf("After config: state=%s", s.State())
	}
	if s.Callsign() != "W1ABC" {
		t.Errorf("Expected callsign W1ABC, got %q", s.Callsign())
	}
	if s.ConnectionType() != TypeHotspot {
		t.Errorf("Expected hotspot, got %s", s.ConnectionType())
	}
	if s.ConnectedAt().IsZero() {
		t.Error("ConnectedAt not set")
	}
}

func TestSession_ResetSalt(t *testing.T) {
	s := testSession(t)
	s.SetAuthenticated()

	s.ResetSalt([4]byte{9, 9, 9, 9})
	if s.State() != StateLogin {
		t.Errorf("Login restart must return to login, got %s", s.State())
	}
	if s.Authenticated() {
		t.Error("Login restart must clear authentication")
	}
	if s.Salt() != [4]byte{9, 9, 9, 9} {
		t.Errorf("Expected fresh salt, got %v", s.Salt())
	}
}

func TestSession_ApplyOptions_Intersection(t *testing.T) {
	s := testSession(t)

	s.ApplyOptions(&protocol.RPTOPacket{
		TS1:    []uint32{1, 2, 999, 1000},
		HasTS1: true,
	})

	if !s.RPTOReceived() {
		t.Error("RPTO flag not set")
	}

	ts1 := s.SlotTGs(protocol.Timeslot1)
	for _, tc := range []struct {
		tg   uint32
		want bool
	}{{1, true}, {2, true}, {3, false}, {9, false}, {999, false}} {
		if ts1.Contains(tc.tg) != tc.want {
			t.Errorf("TS1 contains(%d) = %v, want %v", tc.tg, !tc.want, tc.want)
		}
	}

	// TS2 absent from the request: stays unrestricted
	if !s.SlotTGs(protocol.Timeslot2).IsUnrestricted() {
		t.Error("Absent TS2 key must leave slot 2 untouched")
	}
}

func TestSession_ApplyOptions_UnrestrictedGrantsVerbatim(t *testing.T) {
	s := testSession(t)

	s.ApplyOptions(&protocol.RPTOPacket{TS2: []uint32{3100, 3120}, HasTS2: true})

	ts2 := s.SlotTGs(protocol.Timeslot2)
	if ts2.IsUnrestricted() {
		t.Fatal("RPTO must narrow an unrestricted slot")
	}
	if !ts2.Contains(3100) || !ts2.Contains(3120) || ts2.Contains(91) {
		t.Errorf("Unexpected TS2 set: %s", ts2)
	}
}

func TestSession_ApplyOptions_ReappliesAgainstPolicy(t *testing.T) {
	// A second RPTO intersects against the configured set, not the
	// previously narrowed one.
	s := testSession(t)

	s.ApplyOptions(&protocol.RPTOPacket{TS1: []uint32{1}, HasTS1: true})
	s.ApplyOptions(&protocol.RPTOPacket{TS1: []uint32{2, 3}, HasTS1: true})

	ts1 := s.SlotTGs(protocol.Timeslot1)
	if ts1.Contains(1) || !ts1.Contains(2) || !ts1.Contains(3) {
		t.Errorf("Unexpected TS1 set after re-subscription: %s", ts1)
	}
}

func TestSession_PingAccounting(t *testing.T) {
	s := testSession(t)

	s.TouchPing()
	if s.MissedPings() != 0 {
		t.Errorf("Expected 0 missed pings, got %d", s.MissedPings())
	}

	if n := s.MissPing(); n != 1 {
		t.Errorf("Expected 1 missed ping, got %d", n)
	}
	if n := s.MissPing(); n != 2 {
		t.Errorf("Expected 2 missed pings, got %d", n)
	}

	s.TouchPing()
	if s.MissedPings() != 0 {
		t.Error("Successful ping must reset the missed counter")
	}
}

func TestSession_AccountMissedPings(t *testing.T) {
	s := testSession(t)

	// Never pinged: nothing to account against
	if n := s.AccountMissedPings(5 * time.Second); n != 0 {
		t.Errorf("Expected 0 missed pings before any ping, got %d", n)
	}

	s.mu.Lock()
	s.lastPingAt = time.Now().Add(-12 * time.Second)
	s.mu.Unlock()
	if n := s.AccountMissedPings(5 * time.Second); n != 2 {
		t.Errorf("12s silence at 5s keepalive: expected 2 missed pings, got %d", n)
	}
	if s.MissedPings() != 2 {
		t.Errorf("Accounted misses must persist, got %d", s.MissedPings())
	}

	// A shorter elapsed reading must not wind the counter back
	if n := s.AccountMissedPings(10 * time.Second); n != 2 {
		t.Errorf("Counter must only ratchet up, got %d", n)
	}

	// Zero keepalive leaves the counter alone
	if n := s.AccountMissedPings(0); n != 2 {
		t.Errorf("Zero keepalive must not change the counter, got %d", n)
	}

	s.TouchPing()
	if s.MissedPings() != 0 {
		t.Error("Successful ping must reset the accounted misses")
	}
}

func TestSession_IsTimedOut(t *testing.T) {
	s := testSession(t)

	// Never pinged: not reaped (still in handshake)
	if s.IsTimedOut(5*time.Second, 3) {
		t.Error("Session without pings must not time out")
	}

	s.mu.Lock()
	s.lastPingAt = time.Now().Add(-19 * time.Second)
	s.mu.Unlock()
	if s.IsTimedOut(5*time.Second, 3) {
		t.Error("19s silence with 20s budget must not time out")
	}

	s.mu.Lock()
	s.lastPingAt = time.Now().Add(-21 * time.Second)
	s.mu.Unlock()
	if !s.IsTimedOut(5*time.Second, 3) {
		t.Error("21s silence with 20s budget must time out")
	}
}

func TestSession_SlotStreams(t *testing.T) {
	s := testSession(t)
	now := time.Now()

	st1 := stream.New(0x01, s.ID, protocol.Timeslot1, 1000, 9, 0, now)
	st2 := stream.New(0x02, s.ID, protocol.Timeslot2, 2000, 91, 0, now)

	s.SetSlotStream(protocol.Timeslot1, st1)
	s.SetSlotStream(protocol.Timeslot2, st2)

	if s.SlotStream(protocol.Timeslot1) != st1 || s.SlotStream(protocol.Timeslot2) != st2 {
		t.Fatal("Slot streams not stored independently")
	}

	released := s.ReleaseSlots()
	if len(released) != 2 {
		t.Errorf("Expected 2 released streams, got %d", len(released))
	}
	if s.SlotStream(protocol.Timeslot1) != nil || s.SlotStream(protocol.Timeslot2) != nil {
		t.Error("Slots not cleared after release")
	}
}

func TestSession_Stats(t *testing.T) {
	s := testSession(t)

	s.RecordReceived(55)
	s.RecordReceived(55)
	s.RecordSent(10)

	pktsRx, bytesRx, pktsTx, bytesTx := s.Stats()
	if pktsRx != 2 || bytesRx != 110 || pktsTx != 1 || bytesTx != 10 {
		t.Errorf("Stats = (%d, %d, %d, %d)", pktsRx, bytesRx, pktsTx, bytesTx)
	}
}

func TestDetectionRules_Detect(t *testing.T) {
	rules := DefaultDetectionRules()

	tests := []struct {
		name       string
		softwareID string
		packageID  string
		want       ConnectionType
	}{
		{name: "pi-star hotspot", softwareID: "MMDVM_MMDVM_HS_Hat", packageID: "MMDVM_MMDVM_HS_Hat-v1.5.2", want: TypeHotspot},
		{name: "network link", softwareID: "HBlink3", packageID: "HBlink3-master", want: TypeNetwork},
		{name: "repeater", softwareID: "MMDVM_MMDVM", packageID: "MMDVM-20200101", want: TypeRepeater},
		{name: "case insensitive", softwareID: "freedmr", packageID: "", want: TypeNetwork},
		{name: "unknown", softwareID: "HomebrewThing", packageID: "v0.1", want: TypeUnknown},
		{name: "empty", softwareID: "", packageID: "", want: TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rules.Detect(tt.softwareID, tt.packageID); got != tt.want {
				t.Errorf("Detect(%q, %q) = %s, want %s", tt.softwareID, tt.packageID, got, tt.want)
			}
		})
	}
}
