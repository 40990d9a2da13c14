package network

import (
	"net"
	"sort"
	"time"

	"github.com/dbehnke/hbp-server/pkg/events"
	"github.com/dbehnke/hbp-server/pkg/logger"
	"github.com/dbehnke/hbp-server/pkg/peer"
	"github.com/dbehnke/hbp-server/pkg/protocol"
	"github.com/dbehnke/hbp-server/pkg/stream"
)

// streamUpdateInterval is how many forwarded packets pass between
// stream_update events (~1s of voice).
const streamUpdateInterval = 60

// handleDMRD feeds voice/data traffic from an inbound peer into the engine.
// Packets from unknown sources, wrong addresses, or half-registered sessions
// are dropped silently.
func (s *Server) handleDMRD(data []byte, addr *net.UDPAddr) {
	pkt, err := protocol.ParseDMRD(data)
	if err != nil {
		s.log.Debug("Failed to parse DMRD", logger.Error(err))
		return
	}

	sess := s.registry.Get(pkt.RepeaterID)
	if sess == nil || !s.registry.SameAddress(pkt.RepeaterID, addr) || sess.State() != peer.StateConnected {
		s.log.Debug("DMRD from unregistered source",
			logger.Uint32("peer_id", pkt.RepeaterID),
			logger.String("addr", addr.String()))
		return
	}

	sess.RecordReceived(len(data))
	s.processDMRD(sess, pkt, data)
}

// processDMRD runs admission, routing, forwarding, and end detection for one
// packet. The session may belong to an inbound peer or an outbound client.
func (s *Server) processDMRD(sess *peer.Session, pkt *protocol.DMRDPacket, data []byte) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	now := time.Now()
	slot := pkt.Timeslot
	hangTime := s.cfg.Global.HangTimeDuration()

	st := sess.SlotStream(slot)
	if st != nil {
		admitted, continuation := st.Admit(pkt.SourceID, pkt.DestinationID, pkt.StreamID, now, hangTime)
		if !admitted {
			s.log.Debug("Slot busy, packet dropped",
				logger.Uint32("peer_id", sess.ID),
				logger.Int("slot", slot),
				logger.Uint32("src", pkt.SourceID),
				logger.Uint32("dst", pkt.DestinationID))
			return
		}
		if !continuation {
			st = nil
		}
	}

	if st == nil {
		st = s.startStreamLocked(sess, pkt, now)
	}

	st.Touch(now)
	s.forwardLocked(sess, st, slot, data, now)

	if st.Packets%streamUpdateInterval == 0 {
		s.emitter.Emit(events.StreamUpdate(sess.ID, slot, st.StreamID, st.Packets))
	}

	if pkt.IsTerminator() {
		s.finishStreamLocked(sess, st, now, stream.EndReasonTerminator)
	}
}

// startStreamLocked creates a stream, computes its routing set exactly once,
// and reserves the matching slot on every routing target.
func (s *Server) startStreamLocked(sess *peer.Session, pkt *protocol.DMRDPacket, now time.Time) *stream.Stream {
	st := stream.New(pkt.StreamID, sess.ID, pkt.Timeslot, pkt.SourceID, pkt.DestinationID, pkt.CallType, now)
	st.Targets = s.computeTargetsLocked(sess.ID, pkt, now)
	st.RoutingCached = true
	s.setSlotStreamLocked(sess, pkt.Timeslot, st)

	for _, targetID := range st.Targets {
		target := s.sessionFor(targetID)
		if target == nil {
			continue
		}
		s.setSlotStreamLocked(target, pkt.Timeslot, stream.NewAssumed(st, targetID))
	}

	if pkt.CallType == protocol.CallTypeGroup {
		s.userCache.Update(pkt.SourceID, sess.ID, pkt.Timeslot, pkt.DestinationID)
	}

	s.emitter.Emit(events.StreamStart(
		sess.ID, pkt.Timeslot, pkt.SourceID, pkt.DestinationID, pkt.StreamID,
		callTypeName(pkt.CallType), st.Targets))

	s.log.Info("Stream started",
		logger.Uint32("peer_id", sess.ID),
		logger.Int("slot", pkt.Timeslot),
		logger.Uint32("src", pkt.SourceID),
		logger.Uint32("dst", pkt.DestinationID),
		logger.Uint32("stream_id", pkt.StreamID),
		logger.String("call_type", callTypeName(pkt.CallType)),
		logger.Int("targets", len(st.Targets)))

	return st
}

// computeTargetsLocked evaluates the routing predicate over every connected
// session. The result is cached on the stream and never recomputed.
func (s *Server) computeTargetsLocked(sourceID uint32, pkt *protocol.DMRDPacket, now time.Time) []uint32 {
	hangTime := s.cfg.Global.HangTimeDuration()

	var targets []uint32
	for _, q := range s.routingSessions() {
		if q.ID == sourceID {
			continue
		}
		if qs := q.SlotStream(pkt.Timeslot); qs != nil &&
			!qs.HangTimeCompatible(pkt.SourceID, pkt.DestinationID, now, hangTime) {
			continue
		}
		if pkt.CallType == protocol.CallTypeGroup {
			if !q.SlotTGs(pkt.Timeslot).Contains(pkt.DestinationID) {
				continue
			}
		} else {
			lastPeer, known := s.userCache.PeerFor(pkt.DestinationID)
			if !known || lastPeer != q.ID {
				continue
			}
		}
		targets = append(targets, q.ID)
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

// setSlotStreamLocked installs a stream on a slot. A hang-time takeover
// supersedes the ended stream holding the slot; its reservation is released
// here, so the observer still sees exactly one hang_time_expired for it.
// Assumed reservations go quietly.
func (s *Server) setSlotStreamLocked(sess *peer.Session, slot int, st *stream.Stream) {
	if prev := sess.SlotStream(slot); prev != nil && prev.Ended && !prev.IsAssumed {
		s.emitter.Emit(events.HangTimeExpired(sess.ID, slot, prev.StreamID))
	}
	sess.SetSlotStream(slot, st)
}

// routingSessions returns every session that participates in routing:
// connected inbound peers plus connected outbound clients.
func (s *Server) routingSessions() []*peer.Session {
	sessions := s.registry.Connected()
	for _, c := range s.clients {
		if sess := c.Session(); sess != nil && sess.State() == peer.StateConnected {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}

// sessionFor resolves a routing target ID to its session
func (s *Server) sessionFor(id uint32) *peer.Session {
	if sess := s.registry.Get(id); sess != nil {
		return sess
	}
	if c, ok := s.clients[id]; ok {
		return c.Session()
	}
	return nil
}

// forwardLocked sends the packet verbatim to the cached routing set and
// refreshes the assumed reservations so the timeout scan leaves them alone.
func (s *Server) forwardLocked(sess *peer.Session, st *stream.Stream, slot int, data []byte, now time.Time) {
	for _, targetID := range st.Targets {
		target := s.sessionFor(targetID)
		if target == nil {
			continue
		}
		s.sendToSession(target, data)
		if ts := target.SlotStream(slot); ts != nil && ts.IsAssumed && ts.StreamID == st.StreamID {
			ts.Touch(now)
		}
	}
}

// sendToSession delivers raw bytes to an inbound peer (by UDP address) or an
// outbound client (over its own socket). Send failures are swallowed.
func (s *Server) sendToSession(target *peer.Session, data []byte) {
	if c, ok := s.clients[target.ID]; ok {
		if err := c.SendData(data); err != nil {
			s.log.Debug("Outbound forward failed",
				logger.String("name", c.Name()),
				logger.Error(err))
			return
		}
	} else {
		if _, err := s.transport.WriteTo(data, target.Address); err != nil {
			s.log.Debug("Forward failed",
				logger.Uint32("peer_id", target.ID),
				logger.Error(err))
			return
		}
	}
	target.RecordSent(len(data))
}

// finishStreamLocked ends a stream: event, daily counters, and a quiet end
// for every assumed copy still reserving a target slot. Slots stay held until
// the hang-time scan releases them.
func (s *Server) finishStreamLocked(sess *peer.Session, st *stream.Stream, now time.Time, reason stream.EndReason) {
	if st.Ended {
		return
	}
	st.End(now, reason)

	hangTime := s.cfg.Global.HangTimeDuration()
	s.emitter.Emit(events.StreamEnd(
		sess.ID, st.Slot, st.StreamID, string(reason),
		st.Duration().Seconds(), st.Packets, hangTime.Seconds()))
	s.counters.RecordCall(st.Duration(), len(st.Targets) > 0)

	for _, targetID := range st.Targets {
		target := s.sessionFor(targetID)
		if target == nil {
			continue
		}
		if ts := target.SlotStream(st.Slot); ts != nil && ts.IsAssumed && ts.StreamID == st.StreamID {
			ts.End(now, reason)
		}
	}

	s.log.Info("Stream ended",
		logger.Uint32("peer_id", sess.ID),
		logger.Int("slot", st.Slot),
		logger.Uint32("stream_id", st.StreamID),
		logger.String("reason", string(reason)),
		logger.Float64("duration", st.Duration().Seconds()),
		logger.Uint64("packets", st.Packets))
}
