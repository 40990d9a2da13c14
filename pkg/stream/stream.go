package stream

import (
	"time"
)

// EndReason describes how a stream ended
type EndReason string

const (
	EndReasonTerminator EndReason = "terminator" // explicit terminator frame
	EndReasonTimeout    EndReason = "timeout"    // no packets for stream_timeout
	EndReasonShutdown   EndReason = "shutdown"   // server going down
)

// Stream tracks one voice transmission on a (peer, slot). Identity fields are
// fixed at creation; counters advance per packet. An ended stream keeps
// holding the slot for the hang-time window.
type Stream struct {
	StreamID   uint32
	SourcePeer uint32
	Slot       int
	RFSrc      uint32
	DstID      uint32
	CallType   int

	StartTime time.Time
	LastSeen  time.Time
	EndTime   time.Time
	Packets   uint64

	Ended     bool
	EndReason EndReason

	// IsAssumed marks a reservation installed on a routing target's slot
	// rather than a stream we are receiving packets for.
	IsAssumed bool

	// Targets is the routing set, computed once at stream start and never
	// recomputed. RoutingCached guards against recomputation.
	Targets       []uint32
	RoutingCached bool
}

// New creates an active stream starting now
func New(streamID, sourcePeer uint32, slot int, rfSrc, dstID uint32, callType int, now time.Time) *Stream {
	return &Stream{
		StreamID:   streamID,
		SourcePeer: sourcePeer,
		Slot:       slot,
		RFSrc:      rfSrc,
		DstID:      dstID,
		CallType:   callType,
		StartTime:  now,
		LastSeen:   now,
	}
}

// NewAssumed creates the reservation copy installed on a routing target
func NewAssumed(src *Stream, targetPeer uint32) *Stream {
	s := New(src.StreamID, targetPeer, src.Slot, src.RFSrc, src.DstID, src.CallType, src.StartTime)
	s.IsAssumed = true
	return s
}

// Touch records one forwarded packet
func (s *Stream) Touch(now time.Time) {
	s.Packets++
	s.LastSeen = now
}

// End marks the stream ended. The slot stays reserved until hang time expires.
func (s *Stream) End(now time.Time, reason EndReason) {
	if s.Ended {
		return
	}
	s.Ended = true
	s.EndTime = now
	s.EndReason = reason
}

// Duration returns the stream length. Zero until the stream has ended.
func (s *Stream) Duration() time.Duration {
	if !s.Ended {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// TimedOut reports whether an active stream has gone silent past the timeout
func (s *Stream) TimedOut(now time.Time, streamTimeout time.Duration) bool {
	return !s.Ended && now.Sub(s.LastSeen) > streamTimeout
}

// InHangTime reports whether the ended stream still reserves its slot
func (s *Stream) InHangTime(now time.Time, hangTime time.Duration) bool {
	return s.Ended && now.Sub(s.EndTime) < hangTime
}

// HangTimeExpired reports whether the reservation should be dropped
func (s *Stream) HangTimeExpired(now time.Time, hangTime time.Duration) bool {
	return s.Ended && now.Sub(s.EndTime) >= hangTime
}

// HangTimeCompatible reports whether a new transmission with the given source
// and destination may take over this slot. An active stream is never
// compatible. During hang time the slot admits only the same RF source (the
// user keying up again) or any source calling the same destination; anything
// else is a hijack attempt. After hang time the slot is free.
func (s *Stream) HangTimeCompatible(rfSrc, dstID uint32, now time.Time, hangTime time.Duration) bool {
	if !s.Ended {
		return false
	}
	if s.InHangTime(now, hangTime) {
		return rfSrc == s.RFSrc || dstID == s.DstID
	}
	return true
}

// Admit decides whether a packet with the given identity may proceed on this
// slot. continuation is true when the packet belongs to the active stream.
func (s *Stream) Admit(rfSrc, dstID, streamID uint32, now time.Time, hangTime time.Duration) (admitted, continuation bool) {
	if !s.Ended {
		if streamID == s.StreamID {
			return true, true
		}
		return false, false
	}
	return s.HangTimeCompatible(rfSrc, dstID, now, hangTime), false
}
