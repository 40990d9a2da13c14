package network

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dbehnke/hbp-server/pkg/config"
	"github.com/dbehnke/hbp-server/pkg/events"
	"github.com/dbehnke/hbp-server/pkg/logger"
	"github.com/dbehnke/hbp-server/pkg/peer"
	"github.com/dbehnke/hbp-server/pkg/policy"
	"github.com/dbehnke/hbp-server/pkg/protocol"
	"github.com/dbehnke/hbp-server/pkg/stream"
)

// ConnectionState tracks the outbound handshake progress
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateLoginSent
	StateAuthSent
	StateConfigSent
	StateOptionsSent
	StateConnected
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoginSent:
		return "login_sent"
	case StateAuthSent:
		return "auth_sent"
	case StateConfigSent:
		return "config_sent"
	case StateOptionsSent:
		return "options_sent"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	handshakeTimeout = 5 * time.Second
	initialBackoff   = 1 * time.Second
	maxBackoff       = 60 * time.Second
	maxMissedPongs   = 3
)

// Client maintains one outbound connection to an upstream HBP server. Once
// connected it owns a peer session and participates in routing exactly like
// an inbound peer.
type Client struct {
	config config.OutboundConfig
	global config.GlobalConfig
	server *Server
	log    *logger.Logger

	conn       *net.UDPConn
	masterAddr *net.UDPAddr
	connMu     sync.RWMutex

	state   ConnectionState
	stateMu sync.RWMutex

	session   *peer.Session
	sessionMu sync.RWMutex
}

// NewClient creates an outbound client for one upstream
func NewClient(cfg config.OutboundConfig, global config.GlobalConfig, server *Server, log *logger.Logger) *Client {
	return &Client{
		config: cfg,
		global: global,
		server: server,
		log:    log.WithComponent("network.client." + cfg.Name),
		state:  StateDisconnected,
	}
}

// Name returns the configured upstream name
func (c *Client) Name() string {
	return c.config.Name
}

// PeerID returns the radio ID we present to the upstream
func (c *Client) PeerID() uint32 {
	return c.config.RadioID
}

// RemoteAddr returns the upstream address in host:port form
func (c *Client) RemoteAddr() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Connected reports whether the handshake has completed
func (c *Client) Connected() bool {
	return c.getState() == StateConnected
}

// Session returns the routing session, nil before the first handshake
func (c *Client) Session() *peer.Session {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session
}

// Run connects to the upstream and keeps the connection alive, reconnecting
// with exponential backoff until the context is canceled.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.server.emitter.Emit(events.OutboundConnecting(c.config.Name, c.RemoteAddr()))
		if err := c.connect(ctx); err != nil {
			c.log.Warn("Connect failed",
				logger.String("addr", c.RemoteAddr()),
				logger.Error(err))
			c.server.emitter.Emit(events.OutboundError(c.config.Name, err.Error()))
			c.closeConn()
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		c.log.Info("Connected to upstream", logger.String("addr", c.RemoteAddr()))
		c.server.emitter.Emit(events.OutboundConnected(c.config.Name, c.config.RadioID, c.RemoteAddr()))

		err := c.serve(ctx)
		reason := "closed"
		if err != nil && ctx.Err() == nil {
			reason = err.Error()
		}
		c.teardown(reason)

		if ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// connect performs the full login handshake: RPTL, RPTK, RPTC, and an
// optional RPTO when talkgroup subscriptions are configured.
func (c *Client) connect(ctx context.Context) error {
	masterAddr, err := net.ResolveUDPAddr("udp", c.RemoteAddr())
	if err != nil {
		return fmt.Errorf("failed to resolve upstream address: %w", err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.masterAddr = masterAddr
	c.connMu.Unlock()
	c.setState(StateConnecting)

	buffer := make([]byte, 4096)

	// RPTL, then await the salt. Upstreams answer with either RPTACK+salt
	// or MSTCL+salt; both are accepted.
	rptl := &protocol.RPTLPacket{RepeaterID: c.config.RadioID}
	data, err := rptl.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode RPTL: %w", err)
	}
	if _, err := conn.WriteToUDP(data, masterAddr); err != nil {
		return fmt.Errorf("failed to send RPTL: %w", err)
	}
	c.setState(StateLoginSent)

	n, err := c.awaitReply(conn, buffer)
	if err != nil {
		return fmt.Errorf("no reply to RPTL: %w", err)
	}
	salt, ok := protocol.ParseSaltFromAck(buffer[:n])
	if !ok {
		return fmt.Errorf("unexpected reply to RPTL: %s", protocol.IdentifyPacket(buffer[:n]))
	}

	c.resetSession(masterAddr, salt)

	// RPTK with sha256(salt || passphrase)
	h := sha256.New()
	h.Write(salt[:])
	h.Write([]byte(c.config.EffectivePassphrase()))
	rptk := &protocol.RPTKPacket{RepeaterID: c.config.RadioID, Hash: h.Sum(nil)}
	data, err = rptk.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode RPTK: %w", err)
	}
	if _, err := conn.WriteToUDP(data, masterAddr); err != nil {
		return fmt.Errorf("failed to send RPTK: %w", err)
	}
	c.setState(StateAuthSent)

	if err := c.awaitAck(conn, buffer, "RPTK"); err != nil {
		return err
	}

	// RPTC with our station metadata
	rptc := c.buildRPTC()
	raw, err := rptc.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode RPTC: %w", err)
	}
	if _, err := conn.WriteToUDP(raw, masterAddr); err != nil {
		return fmt.Errorf("failed to send RPTC: %w", err)
	}
	c.setState(StateConfigSent)

	if err := c.awaitAck(conn, buffer, "RPTC"); err != nil {
		return err
	}

	// Optional RPTO selecting the talkgroups we want from the upstream
	if c.config.TS1Talkgroups != nil || c.config.TS2Talkgroups != nil {
		rpto := &protocol.RPTOPacket{
			RepeaterID: c.config.RadioID,
			TS1:        c.config.TS1Talkgroups,
			TS2:        c.config.TS2Talkgroups,
			HasTS1:     c.config.TS1Talkgroups != nil,
			HasTS2:     c.config.TS2Talkgroups != nil,
		}
		data, err = rpto.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode RPTO: %w", err)
		}
		if _, err := conn.WriteToUDP(data, masterAddr); err != nil {
			return fmt.Errorf("failed to send RPTO: %w", err)
		}
		c.setState(StateOptionsSent)

		if err := c.awaitAck(conn, buffer, "RPTO"); err != nil {
			return err
		}
	}

	c.Session().SetConfig(raw, rptc, peer.TypeNetwork)
	c.setState(StateConnected)

	// Clear the handshake deadline for normal operation
	return conn.SetReadDeadline(time.Time{})
}

// resetSession installs a fresh routing session for this connection attempt
func (c *Client) resetSession(masterAddr *net.UDPAddr, salt [protocol.SaltLength]byte) {
	sess := peer.NewSession(c.config.RadioID, masterAddr, salt)

	cfg := policy.PeerConfig{Passphrase: c.config.EffectivePassphrase()}
	if c.config.TS1Talkgroups != nil {
		cfg.Slot1TGs = policy.NewTalkgroupSet(c.config.TS1Talkgroups)
	} else {
		cfg.Slot1TGs = policy.Unrestricted()
	}
	if c.config.TS2Talkgroups != nil {
		cfg.Slot2TGs = policy.NewTalkgroupSet(c.config.TS2Talkgroups)
	} else {
		cfg.Slot2TGs = policy.Unrestricted()
	}
	sess.SetPolicy(cfg, "outbound")

	c.sessionMu.Lock()
	c.session = sess
	c.sessionMu.Unlock()
}

func (c *Client) buildRPTC() *protocol.RPTCPacket {
	return &protocol.RPTCPacket{
		RepeaterID:  c.config.RadioID,
		Callsign:    c.config.Callsign,
		RXFreq:      c.config.RXFreq,
		TXFreq:      c.config.TXFreq,
		TXPower:     c.config.TXPower,
		ColorCode:   c.config.ColorCode,
		Latitude:    c.config.Latitude,
		Longitude:   c.config.Longitude,
		Height:      c.config.Height,
		Location:    c.config.Location,
		Description: c.config.Description,
		Slots:       "3", // both timeslots
		URL:         c.config.URL,
		SoftwareID:  c.config.SoftwareID,
		PackageID:   c.config.PackageID,
	}
}

// awaitReply reads one datagram within the handshake timeout
func (c *Client) awaitReply(conn *net.UDPConn, buffer []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return 0, err
	}
	n, _, err := conn.ReadFromUDP(buffer)
	return n, err
}

// awaitAck reads one datagram and requires an RPTACK
func (c *Client) awaitAck(conn *net.UDPConn, buffer []byte, after string) error {
	n, err := c.awaitReply(conn, buffer)
	if err != nil {
		return fmt.Errorf("no reply to %s: %w", after, err)
	}
	if n >= protocol.RPTACKPacketSize && string(buffer[0:6]) == protocol.PacketTypeRPTACK {
		return nil
	}
	return fmt.Errorf("unexpected reply to %s: %s", after, protocol.IdentifyPacket(buffer[:n]))
}

// serve runs the receive and keepalive loops until one of them fails
func (c *Client) serve(ctx context.Context) error {
	errChan := make(chan error, 2)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		errChan <- c.receiveLoop(loopCtx)
	}()
	go func() {
		errChan <- c.keepaliveLoop(loopCtx)
	}()

	return <-errChan
}

// receiveLoop handles traffic from the upstream
func (c *Client) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, 4096)
	conn := c.getConn()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("read error: %w", err)
		}

		if err := c.handlePacket(buffer[:n]); err != nil {
			return err
		}
	}
}

// handlePacket processes one datagram from the upstream
func (c *Client) handlePacket(data []byte) error {
	switch protocol.IdentifyPacket(data) {
	case protocol.PacketTypeDMRD:
		pkt, err := protocol.ParseDMRD(data)
		if err != nil {
			c.log.Debug("Failed to parse DMRD", logger.Error(err))
			return nil
		}
		sess := c.Session()
		sess.RecordReceived(len(data))
		c.server.processDMRD(sess, pkt, data)

	case protocol.PacketTypeMSTPONG:
		c.Session().TouchPing()

	case protocol.PacketTypeMSTCL, protocol.PacketTypeMSTC:
		return fmt.Errorf("upstream closed the connection")

	case protocol.PacketTypeMSTNAK, protocol.PacketTypeMSTN:
		return fmt.Errorf("upstream rejected the session")

	default:
		c.log.Debug("Unknown packet from upstream",
			logger.String("type", protocol.IdentifyPacket(data)))
	}
	return nil
}

// keepaliveLoop sends RPTPING on the keepalive interval and tears the
// connection down after too many unanswered pings.
func (c *Client) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.global.PingDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sess := c.Session()
			if missed := sess.MissPing(); missed > maxMissedPongs {
				return fmt.Errorf("upstream unresponsive after %d missed pongs", missed-1)
			}
			if err := c.SendData(protocol.EncodeRPTPING(c.config.RadioID)); err != nil {
				return fmt.Errorf("failed to send RPTPING: %w", err)
			}
		}
	}
}

// SendData writes raw bytes to the upstream socket
func (c *Client) SendData(data []byte) error {
	c.connMu.RLock()
	conn, addr := c.conn, c.masterAddr
	c.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}
	_, err := conn.WriteToUDP(data, addr)
	return err
}

// teardown releases the session and tells the upstream (best effort) and the
// observer that we are gone.
func (c *Client) teardown(reason string) {
	if sess := c.Session(); sess != nil {
		c.server.endPeerStreams(sess, stream.EndReasonShutdown)
		sess.SetState(peer.StateDead)
	}
	_ = c.SendData(protocol.EncodeRPTCL(c.config.RadioID))
	c.closeConn()
	c.setState(StateDisconnected)
	c.server.emitter.Emit(events.OutboundDisconnected(c.config.Name, reason))
	c.log.Info("Disconnected from upstream", logger.String("reason", reason))
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) getConn() *net.UDPConn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setState(state ConnectionState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

func (c *Client) getState() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}
