package stream

import (
	"testing"
	"time"
)

const testHangTime = 3 * time.Second

func TestStream_Admit_ActiveContinuation(t *testing.T) {
	now := time.Now()
	s := New(0xAABBCCDD, 312100, 1, 3120001, 3100, 0, now)

	admitted, continuation := s.Admit(3120001, 3100, 0xAABBCCDD, now, testHangTime)
	if !admitted || !continuation {
		t.Errorf("Same stream ID must continue: admitted=%v continuation=%v", admitted, continuation)
	}

	// A different stream ID on an active slot is a collision, not a takeover
	admitted, _ = s.Admit(9999999, 91, 0x11111111, now, testHangTime)
	if admitted {
		t.Error("Different stream ID must be rejected while slot is active")
	}
}

func TestStream_Admit_HangTimeRules(t *testing.T) {
	start := time.Now()
	s := New(0x01, 312100, 1, 1000, 9, 0, start)
	s.End(start.Add(2*time.Second), EndReasonTerminator)

	inHang := start.Add(3 * time.Second)   // 1s after end, inside hang time
	afterHang := start.Add(10 * time.Second) // well past hang time

	tests := []struct {
		name  string
		rfSrc uint32
		dstID uint32
		now   time.Time
		want  bool
	}{
		{name: "same source new talkgroup", rfSrc: 1000, dstID: 2, now: inHang, want: true},
		{name: "new source same talkgroup", rfSrc: 2000, dstID: 9, now: inHang, want: true},
		{name: "hijack attempt", rfSrc: 2000, dstID: 2, now: inHang, want: false},
		{name: "anything after hang time", rfSrc: 2000, dstID: 2, now: afterHang, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitted, continuation := s.Admit(tt.rfSrc, tt.dstID, 0x02, tt.now, testHangTime)
			if admitted != tt.want {
				t.Errorf("Admit = %v, want %v", admitted, tt.want)
			}
			if continuation {
				t.Error("An ended stream must never report a continuation")
			}
		})
	}
}

func TestStream_HangTimeCompatible_ActiveSlot(t *testing.T) {
	now := time.Now()
	s := New(0x01, 312100, 2, 1000, 9, 0, now)

	if s.HangTimeCompatible(1000, 9, now, testHangTime) {
		t.Error("An active stream must never be hang-time compatible")
	}
}

func TestStream_TimedOut(t *testing.T) {
	start := time.Now()
	s := New(0x01, 1, 1, 1000, 9, 0, start)

	if s.TimedOut(start.Add(time.Second), 2*time.Second) {
		t.Error("Stream must not time out within the window")
	}
	if !s.TimedOut(start.Add(2500*time.Millisecond), 2*time.Second) {
		t.Error("Stream must time out past the window")
	}

	s.End(start.Add(time.Second), EndReasonTerminator)
	if s.TimedOut(start.Add(time.Hour), 2*time.Second) {
		t.Error("An ended stream cannot time out")
	}
}

func TestStream_HangTimeExpiry(t *testing.T) {
	start := time.Now()
	s := New(0x01, 1, 1, 1000, 9, 0, start)
	s.End(start.Add(time.Second), EndReasonTimeout)

	if !s.InHangTime(start.Add(2*time.Second), testHangTime) {
		t.Error("Expected stream in hang time 1s after end")
	}
	if s.HangTimeExpired(start.Add(2*time.Second), testHangTime) {
		t.Error("Hang time must not expire early")
	}
	if !s.HangTimeExpired(start.Add(5*time.Second), testHangTime) {
		t.Error("Hang time must expire after the window")
	}
}

func TestStream_EndIsIdempotent(t *testing.T) {
	start := time.Now()
	s := New(0x01, 1, 1, 1000, 9, 0, start)
	s.End(start.Add(time.Second), EndReasonTerminator)
	s.End(start.Add(5*time.Second), EndReasonTimeout)

	if s.EndReason != EndReasonTerminator {
		t.Errorf("Expected first end reason to stick, got %s", s.EndReason)
	}
	if s.Duration() != time.Second {
		t.Errorf("Expected 1s duration, got %v", s.Duration())
	}
}

func TestStream_Touch(t *testing.T) {
	start := time.Now()
	s := New(0x01, 1, 1, 1000, 9, 0, start)

	later := start.Add(60 * time.Millisecond)
	s.Touch(later)
	s.Touch(later.Add(60 * time.Millisecond))

	if s.Packets != 2 {
		t.Errorf("Expected 2 packets, got %d", s.Packets)
	}
	if !s.LastSeen.After(later) {
		t.Error("LastSeen not advanced")
	}
}

func TestNewAssumed(t *testing.T) {
	src := New(0xFEED, 312100, 2, 1000, 9, 0, time.Now())
	assumed := NewAssumed(src, 312200)

	if !assumed.IsAssumed {
		t.Error("Assumed stream must carry the flag")
	}
	if assumed.SourcePeer != 312200 {
		t.Errorf("Assumed stream belongs to the target peer, got %d", assumed.SourcePeer)
	}
	if assumed.StreamID != src.StreamID || assumed.RFSrc != src.RFSrc || assumed.DstID != src.DstID {
		t.Error("Assumed stream must mirror source identity")
	}
	if assumed.Slot != src.Slot {
		t.Errorf("Assumed stream slot mismatch: %d", assumed.Slot)
	}
}
