package network

import (
	"context"
	"time"

	"github.com/dbehnke/hbp-server/pkg/events"
	"github.com/dbehnke/hbp-server/pkg/logger"
	"github.com/dbehnke/hbp-server/pkg/protocol"
	"github.com/dbehnke/hbp-server/pkg/stream"
)

const (
	reapInterval       = 1 * time.Second
	streamScanInterval = 100 * time.Millisecond
	cacheSweepInterval = 60 * time.Second
)

// schedulerLoop drives the periodic maintenance work: dead-peer reaping,
// stream timeout and hang-time expiry, and user-cache sweeping.
func (s *Server) schedulerLoop(ctx context.Context) error {
	reapTicker := time.NewTicker(reapInterval)
	defer reapTicker.Stop()
	scanTicker := time.NewTicker(streamScanInterval)
	defer scanTicker.Stop()
	sweepTicker := time.NewTicker(cacheSweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reapTicker.C:
			s.ReapDeadPeersOnce()
		case <-scanTicker.C:
			s.ScanStreamsOnce(time.Now())
		case <-sweepTicker.C:
			if evicted := s.userCache.Sweep(); evicted > 0 {
				s.log.Debug("User cache swept", logger.Int("evicted", evicted))
			}
		}
	}
}

// ReapDeadPeersOnce runs a single dead-peer scan (exposed for testing). A
// peer is dead after keepalive x (max_missed + 1) seconds of silence.
func (s *Server) ReapDeadPeersOnce() {
	keepalive := s.cfg.Global.PingDuration()
	maxMissed := s.cfg.Global.MaxMissedPings

	for _, sess := range s.registry.Connected() {
		sess.AccountMissedPings(keepalive)
		if sess.IsTimedOut(keepalive, maxMissed) {
			s.log.Warn("Peer timed out",
				logger.Uint32("peer_id", sess.ID),
				logger.String("last_ping", sess.LastPingAt().Format(time.RFC3339)))
			s.dropPeer(sess, "timeout", stream.EndReasonTimeout)
		}
	}
}

// ScanStreamsOnce runs a single stream maintenance pass (exposed for
// testing): silent active streams end with reason timeout, and slots whose
// hang time has run out are released.
func (s *Server) ScanStreamsOnce(now time.Time) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	streamTimeout := s.cfg.Global.StreamTimeoutDuration()
	hangTime := s.cfg.Global.HangTimeDuration()

	for _, sess := range s.routingSessions() {
		for _, slot := range []int{protocol.Timeslot1, protocol.Timeslot2} {
			st := sess.SlotStream(slot)
			if st == nil {
				continue
			}

			if !st.Ended && st.TimedOut(now, streamTimeout) {
				if st.IsAssumed {
					// Orphaned reservation; its source is gone
					st.End(now, stream.EndReasonTimeout)
				} else {
					s.finishStreamLocked(sess, st, now, stream.EndReasonTimeout)
				}
			}

			if st.Ended && st.HangTimeExpired(now, hangTime) {
				sess.SetSlotStream(slot, nil)
				if !st.IsAssumed {
					s.emitter.Emit(events.HangTimeExpired(sess.ID, slot, st.StreamID))
					s.log.Debug("Hang time expired",
						logger.Uint32("peer_id", sess.ID),
						logger.Int("slot", slot),
						logger.Uint32("stream_id", st.StreamID))
				}
			}
		}
	}
}
