package network

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dbehnke/hbp-server/pkg/config"
	"github.com/dbehnke/hbp-server/pkg/counters"
	"github.com/dbehnke/hbp-server/pkg/events"
	"github.com/dbehnke/hbp-server/pkg/logger"
	"github.com/dbehnke/hbp-server/pkg/peer"
	"github.com/dbehnke/hbp-server/pkg/policy"
	"github.com/dbehnke/hbp-server/pkg/protocol"
	"github.com/dbehnke/hbp-server/pkg/stream"
)

// ErrBind marks UDP bind failures; main exits 2 on it
var ErrBind = errors.New("failed to bind UDP socket")

// Server is the HBP master: it owns the UDP socket, the peer registry, the
// stream engine, and the outbound clients.
type Server struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *peer.Registry
	matcher   *policy.Matcher
	detection peer.DetectionRules
	userCache *stream.UserCache
	emitter   *events.Emitter
	counters  *counters.Daily

	conn      *net.UDPConn
	transport Transport

	// Outbound clients keyed by their radio ID. Their sessions participate in
	// routing exactly like inbound peers.
	clients map[uint32]*Client

	// engineMu serializes stream admission, routing, and teardown. The
	// receive loop handles packets inline, so for one peer packet order on
	// the socket is packet order in the engine; the lock extends that to
	// outbound client traffic and the scheduler.
	engineMu sync.Mutex

	// started is closed once the UDP listener is bound and ready
	started chan struct{}
}

// NewServer wires a server from a validated configuration
func NewServer(cfg *config.Config, log *logger.Logger, emitter *events.Emitter, daily *counters.Daily) (*Server, error) {
	matcher, err := cfg.Matcher()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		log:       log.WithComponent("network.server"),
		registry:  peer.NewRegistry(),
		matcher:   matcher,
		detection: cfg.DetectionRules(),
		userCache: stream.NewUserCache(cfg.Global.UserCacheTTL()),
		emitter:   emitter,
		counters:  daily,
		clients:   make(map[uint32]*Client),
		started:   make(chan struct{}),
	}

	for _, oc := range cfg.Outbound {
		if !oc.Enabled {
			continue
		}
		s.clients[oc.RadioID] = NewClient(oc, cfg.Global, s, log)
	}

	emitter.SetSnapshot(s.snapshotEvents)
	return s, nil
}

// Registry exposes the peer registry (for testing)
func (s *Server) Registry() *peer.Registry {
	return s.registry
}

// WithTransport injects an outbound transport (instead of the UDP socket's)
func (s *Server) WithTransport(t Transport) *Server {
	s.transport = t
	return s
}

// Start binds the UDP socket and runs the receive and scheduler loops until
// the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	localAddr := &net.UDPAddr{
		IP:   net.ParseIP(s.cfg.Global.BindIPv4),
		Port: s.cfg.Global.BindPort,
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	s.conn = conn
	if s.transport == nil {
		s.transport = &udpTransport{conn: conn}
	}
	// Signal that the server is ready to accept packets
	select {
	case <-s.started: // already closed
	default:
		close(s.started)
	}
	defer func() {
		_ = s.conn.Close()
	}()

	s.log.Info("Server started",
		logger.String("addr", conn.LocalAddr().String()),
		logger.Int("outbound_connections", len(s.clients)))

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.receiveLoop(ctx)
	}()

	go func() {
		errChan <- s.schedulerLoop(ctx)
	}()

	for _, c := range s.clients {
		go c.Run(ctx)
	}

	select {
	case <-ctx.Done():
		s.shutdown()
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// WaitStarted blocks until the UDP listener is bound or the context is canceled
func (s *Server) WaitStarted(ctx context.Context) error {
	select {
	case <-s.started:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the local UDP address the server is bound to. It should be
// called after WaitStarted.
func (s *Server) Addr() (*net.UDPAddr, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("server not started")
	}
	udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("not a UDP address")
	}
	return udpAddr, nil
}

// shutdown closes every inbound session: active streams end, peers get an
// MSTCL so well-behaved ones re-register elsewhere, and the observer sees a
// disconnect for each.
func (s *Server) shutdown() {
	for _, sess := range s.registry.All() {
		if sess.State() == peer.StateConnected {
			s.endPeerStreams(sess, stream.EndReasonShutdown)
			s.send(protocol.EncodeMSTCL(sess.ID), sess.Address)
			s.emitter.Emit(events.RepeaterDisconnected(sess.ID, sess.Callsign(), "shutdown"))
		}
		s.registry.Remove(sess.ID)
	}
	s.log.Info("Server stopped")
}

// receiveLoop continuously receives and processes packets. Packets are
// handled inline so per-peer ordering is preserved.
func (s *Server) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Short read deadline to allow context checking
		if err := s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			s.log.Warn("Failed to set read deadline", logger.Error(err))
			continue
		}
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.log.Error("Failed to read from UDP", logger.Error(err))
			continue
		}

		s.handlePacket(buffer[:n], addr)
	}
}

// handlePacket dispatches one datagram by its tag
func (s *Server) handlePacket(data []byte, addr *net.UDPAddr) {
	if len(data) < 4 {
		return
	}

	packetType := protocol.IdentifyPacket(data)

	switch packetType {
	case protocol.PacketTypeDMRD:
		s.handleDMRD(data, addr)
	case protocol.PacketTypeRPTL:
		s.handleRPTL(data, addr)
	case protocol.PacketTypeRPTK:
		s.handleRPTK(data, addr)
	case protocol.PacketTypeRPTC:
		s.handleRPTC(data, addr)
	case protocol.PacketTypeRPTO:
		s.handleRPTO(data, addr)
	case protocol.PacketTypeRPTPING, protocol.PacketTypeRPTP:
		s.handlePing(data, addr)
	case protocol.PacketTypeRPTCL, protocol.PacketTypeMSTCL, protocol.PacketTypeMSTC:
		s.handleClose(data, addr)
	default:
		s.log.Debug("Unknown packet type",
			logger.String("type", string(data[0:4])),
			logger.String("addr", addr.String()))
	}
}

// handleRPTL handles login requests from peers
func (s *Server) handleRPTL(data []byte, addr *net.UDPAddr) {
	rptl, err := protocol.ParseRPTL(data)
	if err != nil {
		s.log.Debug("Failed to parse RPTL", logger.Error(err))
		return
	}
	id := rptl.RepeaterID

	if rej, ok := s.matcher.Blacklisted(id, ""); ok {
		s.log.Info("Login refused by blacklist",
			logger.Uint32("peer_id", id),
			logger.String("rule", rej.Rule),
			logger.String("reason", rej.Reason))
		s.sendNAK(id, addr)
		return
	}

	salt, err := newSalt()
	if err != nil {
		s.log.Error("Failed to generate salt", logger.Error(err))
		return
	}

	if existing := s.registry.Get(id); existing != nil {
		if !s.registry.SameAddress(id, addr) {
			// Someone else already holds this ID; refuse the newcomer
			s.log.Warn("Login for connected ID from different address",
				logger.Uint32("peer_id", id),
				logger.String("addr", addr.String()),
				logger.String("existing_addr", existing.Address.String()))
			s.sendNAK(id, addr)
			return
		}
		// Same peer restarting its handshake
		existing.ResetSalt(salt)
		s.send(protocol.EncodeRPTACKSalt(salt), addr)
		s.log.Info("Login restarted", logger.Uint32("peer_id", id))
		return
	}

	sess := s.registry.Add(id, addr, salt)
	peerCfg, rule := s.matcher.Match(id, "")
	sess.SetPolicy(peerCfg, rule)

	s.send(protocol.EncodeRPTACKSalt(salt), addr)
	s.log.Info("Login challenge sent",
		logger.Uint32("peer_id", id),
		logger.String("addr", addr.String()),
		logger.String("rule", rule))
}

// handleRPTK verifies the peer's sha256(salt || passphrase) answer
func (s *Server) handleRPTK(data []byte, addr *net.UDPAddr) {
	rptk, err := protocol.ParseRPTK(data)
	if err != nil {
		s.log.Debug("Failed to parse RPTK", logger.Error(err))
		return
	}
	id := rptk.RepeaterID

	sess := s.registry.Get(id)
	if sess == nil || !s.registry.SameAddress(id, addr) {
		s.sendNAK(id, addr)
		return
	}
	if sess.State() != peer.StateLogin {
		s.sendNAK(id, addr)
		return
	}

	salt := sess.Salt()
	h := sha256.New()
	h.Write(salt[:])
	h.Write([]byte(sess.Passphrase()))
	expected := h.Sum(nil)

	if subtle.ConstantTimeCompare(expected, rptk.Hash) != 1 {
		s.log.Warn("Authentication failed",
			logger.Uint32("peer_id", id),
			logger.String("addr", addr.String()))
		s.sendNAK(id, addr)
		s.registry.Remove(id)
		return
	}

	sess.SetAuthenticated()
	s.send(protocol.EncodeRPTACK(id), addr)
	s.log.Info("Peer authenticated", logger.Uint32("peer_id", id))
}

// handleRPTC accepts the peer's configuration and completes the handshake
func (s *Server) handleRPTC(data []byte, addr *net.UDPAddr) {
	rptc, err := protocol.ParseRPTC(data)
	if err != nil {
		s.log.Debug("Failed to parse RPTC", logger.Error(err))
		return
	}
	id := rptc.RepeaterID

	sess := s.registry.Get(id)
	if sess == nil || !s.registry.SameAddress(id, addr) {
		s.sendNAK(id, addr)
		return
	}
	if sess.State() != peer.StateConfig {
		s.sendNAK(id, addr)
		return
	}

	// The blacklist gets a second look now that the callsign is known
	if rej, ok := s.matcher.Blacklisted(id, rptc.Callsign); ok {
		s.log.Info("Config refused by blacklist",
			logger.Uint32("peer_id", id),
			logger.String("callsign", rptc.Callsign),
			logger.String("rule", rej.Rule),
			logger.String("reason", rej.Reason))
		s.sendNAK(id, addr)
		s.registry.Remove(id)
		return
	}

	// Re-run the matcher with the callsign; a callsign pattern may select a
	// different talkgroup policy than the ID-only match at login
	peerCfg, rule := s.matcher.Match(id, rptc.Callsign)
	sess.SetPolicy(peerCfg, rule)

	connType := s.detection.Detect(rptc.SoftwareID, rptc.PackageID)
	sess.SetConfig(data, rptc, connType)

	s.emitter.Emit(events.RepeaterConnected(id, rptc.Callsign, string(connType), addr.String()))
	s.emitter.Emit(events.RepeaterDetails(id, repeaterDetails(sess, rptc)))

	s.send(protocol.EncodeRPTACK(id), addr)
	s.log.Info("Peer connected",
		logger.Uint32("peer_id", id),
		logger.String("callsign", rptc.Callsign),
		logger.String("type", string(connType)),
		logger.String("rule", rule))
}

// handleRPTO narrows the peer's slot talkgroup subscriptions
func (s *Server) handleRPTO(data []byte, addr *net.UDPAddr) {
	opts, err := protocol.ParseRPTO(data)
	if err != nil {
		s.log.Debug("Failed to parse RPTO", logger.Error(err))
		return
	}
	id := opts.RepeaterID

	sess := s.registry.Get(id)
	if sess == nil || !s.registry.SameAddress(id, addr) || sess.State() != peer.StateConnected {
		s.sendNAK(id, addr)
		return
	}

	sess.ApplyOptions(opts)
	slot1 := sess.SlotTGs(protocol.Timeslot1)
	slot2 := sess.SlotTGs(protocol.Timeslot2)
	s.emitter.Emit(events.RepeaterOptionsUpdated(id, slot1.IDs(), slot2.IDs()))

	s.send(protocol.EncodeRPTACK(id), addr)
	s.log.Info("Options applied",
		logger.Uint32("peer_id", id),
		logger.String("ts1", slot1.String()),
		logger.String("ts2", slot2.String()))
}

// handlePing answers RPTPING / RPTP keepalives with MSTPONG
func (s *Server) handlePing(data []byte, addr *net.UDPAddr) {
	id, err := protocol.ParsePingID(data)
	if err != nil {
		s.log.Debug("Failed to parse ping", logger.Error(err))
		return
	}

	sess := s.registry.Get(id)
	if sess == nil || !s.registry.SameAddress(id, addr) || sess.State() != peer.StateConnected {
		s.sendNAK(id, addr)
		return
	}

	// Report how many keepalive intervals the peer skipped before this ping
	missed := sess.MissedPings()
	sess.TouchPing()
	s.send(protocol.EncodeMSTPONG(id), addr)
	s.emitter.Emit(events.RepeaterKeepalive(id, missed))
}

// handleClose removes a peer on RPTCL / MSTCL
func (s *Server) handleClose(data []byte, addr *net.UDPAddr) {
	id, err := protocol.ParseCloseID(data)
	if err != nil {
		s.log.Debug("Failed to parse close", logger.Error(err))
		return
	}

	sess := s.registry.Get(id)
	if sess == nil || !s.registry.SameAddress(id, addr) {
		return
	}

	s.dropPeer(sess, "rptcl", stream.EndReasonShutdown)
}

// dropPeer ends the peer's streams with the given end reason, removes the
// session, and tells the observer why.
func (s *Server) dropPeer(sess *peer.Session, reason string, end stream.EndReason) {
	s.endPeerStreams(sess, end)
	s.registry.Remove(sess.ID)
	s.emitter.Emit(events.RepeaterDisconnected(sess.ID, sess.Callsign(), reason))
	s.log.Info("Peer disconnected",
		logger.Uint32("peer_id", sess.ID),
		logger.String("reason", reason))
}

// endPeerStreams ends every stream the peer's slots hold. Streams the peer
// originated go through the full end path and release their reservation
// immediately, since the slots vanish with the session. Assumed reservations
// go quietly.
func (s *Server) endPeerStreams(sess *peer.Session, reason stream.EndReason) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()

	now := time.Now()
	for _, st := range sess.ReleaseSlots() {
		if st.IsAssumed {
			st.End(now, reason)
			continue
		}
		if !st.Ended {
			s.finishStreamLocked(sess, st, now, reason)
		}
		s.emitter.Emit(events.HangTimeExpired(sess.ID, st.Slot, st.StreamID))
	}
}

// snapshotEvents reproduces the full server state as an event sequence for a
// freshly attached observer.
func (s *Server) snapshotEvents() []events.Event {
	var evs []events.Event

	for _, sess := range s.registry.Connected() {
		cfg := sess.Config()
		if cfg == nil {
			continue
		}
		evs = append(evs, events.RepeaterConnected(
			sess.ID, cfg.Callsign, string(sess.ConnectionType()), sess.Address.String()))
		evs = append(evs, events.RepeaterDetails(sess.ID, repeaterDetails(sess, cfg)))
	}

	for _, c := range s.clients {
		if c.Connected() {
			evs = append(evs, events.OutboundConnected(c.Name(), c.PeerID(), c.RemoteAddr()))
		}
	}

	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	for _, sess := range s.routingSessions() {
		for _, slot := range []int{protocol.Timeslot1, protocol.Timeslot2} {
			st := sess.SlotStream(slot)
			if st == nil || st.Ended || st.IsAssumed {
				continue
			}
			evs = append(evs, events.StreamStart(
				st.SourcePeer, st.Slot, st.RFSrc, st.DstID, st.StreamID,
				callTypeName(st.CallType), st.Targets))
		}
	}
	return evs
}

func repeaterDetails(sess *peer.Session, cfg *protocol.RPTCPacket) map[string]interface{} {
	pktsRx, bytesRx, pktsTx, bytesTx := sess.Stats()
	return map[string]interface{}{
		"connected_at":     sess.ConnectedAt().Unix(),
		"packets_received": pktsRx,
		"bytes_received":   bytesRx,
		"packets_sent":     pktsTx,
		"bytes_sent":       bytesTx,
		"callsign":    cfg.Callsign,
		"rx_freq":     cfg.RXFreq,
		"tx_freq":     cfg.TXFreq,
		"tx_power":    cfg.TXPower,
		"color_code":  cfg.ColorCode,
		"latitude":    cfg.Latitude,
		"longitude":   cfg.Longitude,
		"height":      cfg.Height,
		"location":    cfg.Location,
		"description": cfg.Description,
		"slots":       cfg.Slots,
		"url":         cfg.URL,
		"software_id": cfg.SoftwareID,
		"package_id":  cfg.PackageID,
	}
}

func callTypeName(callType int) string {
	if callType == protocol.CallTypePrivate {
		return "private"
	}
	return "group"
}

func newSalt() ([protocol.SaltLength]byte, error) {
	var salt [protocol.SaltLength]byte
	_, err := rand.Read(salt[:])
	return salt, err
}

// send writes one datagram, swallowing transient failures
func (s *Server) send(data []byte, addr *net.UDPAddr) {
	if _, err := s.transport.WriteTo(data, addr); err != nil {
		s.log.Warn("UDP send failed",
			logger.String("addr", addr.String()),
			logger.Error(err))
	}
}

func (s *Server) sendNAK(id uint32, addr *net.UDPAddr) {
	s.send(protocol.EncodeMSTNAK(id), addr)
}
