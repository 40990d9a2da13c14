package peer

import (
	"net"
	"sync"
	"time"

	"github.com/dbehnke/hbp-server/pkg/policy"
	"github.com/dbehnke/hbp-server/pkg/protocol"
	"github.com/dbehnke/hbp-server/pkg/stream"
)

// State represents the lifecycle state of an inbound peer session
type State int

const (
	StateLogin State = iota
	StateConfig
	StateConnected
	StateDead
)

// String returns the string representation of the session state
func (s State) String() string {
	switch s {
	case StateLogin:
		return "login"
	case StateConfig:
		return "config"
	case StateConnected:
		return "connected"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Session represents one authenticated inbound peer connection
type Session struct {
	ID      uint32
	Address *net.UDPAddr

	state         State
	salt          [protocol.SaltLength]byte
	authenticated bool

	// Policy selected by the access-control matcher
	policyConfig policy.PeerConfig
	policyRule   string

	// Configuration from RPTC. Raw bytes are kept for forwarding fidelity;
	// the decoded packet feeds event payloads.
	rawConfig      []byte
	config         *protocol.RPTCPacket
	connectionType ConnectionType

	// Per-slot talkgroup allow-sets, seeded from policy and narrowed by RPTO
	slot1TGs     *policy.TalkgroupSet
	slot2TGs     *policy.TalkgroupSet
	rptoReceived bool

	// Liveness
	connectedAt time.Time
	lastPingAt  time.Time
	missedPings int

	// Active or hang-time streams, one per slot
	slot1Stream *stream.Stream
	slot2Stream *stream.Stream

	// Statistics
	packetsReceived uint64
	bytesReceived   uint64
	packetsSent     uint64
	bytesSent       uint64

	mu sync.RWMutex
}

// NewSession creates a session in the LOGIN state with the given salt
func NewSession(id uint32, addr *net.UDPAddr, salt [protocol.SaltLength]byte) *Session {
	return &Session{
		ID:       id,
		Address:  addr,
		state:    StateLogin,
		salt:     salt,
		slot1TGs: policy.Unrestricted(),
		slot2TGs: policy.Unrestricted(),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the lifecycle state
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Salt returns the login challenge salt
func (s *Session) Salt() [protocol.SaltLength]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.salt
}

// ResetSalt installs a fresh salt for a login restart
func (s *Session) ResetSalt(salt [protocol.SaltLength]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salt = salt
	s.state = StateLogin
	s.authenticated = false
}

// SetAuthenticated records a successful key exchange
func (s *Session) SetAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.state = StateConfig
}

// Authenticated reports whether the key exchange succeeded
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetPolicy records the matcher's decision for this peer
func (s *Session) SetPolicy(cfg policy.PeerConfig, rule string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policyConfig = cfg
	s.policyRule = rule
	s.slot1TGs = cfg.Slot1TGs
	s.slot2TGs = cfg.Slot2TGs
}

// Policy returns the matcher's decision and the rule that made it
func (s *Session) Policy() (policy.PeerConfig, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyConfig, s.policyRule
}

// Passphrase returns the passphrase the peer must authenticate with
func (s *Session) Passphrase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyConfig.Passphrase
}

// SetConfig stores the RPTC configuration and marks the session connected
func (s *Session) SetConfig(raw []byte, cfg *protocol.RPTCPacket, connType ConnectionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawConfig = append([]byte(nil), raw...)
	s.config = cfg
	s.connectionType = connType
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.lastPingAt = time.Now()
}

// Config returns the decoded RPTC configuration, nil before config exchange
func (s *Session) Config() *protocol.RPTCPacket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Callsign returns the configured callsign, empty before config exchange
func (s *Session) Callsign() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return ""
	}
	return s.config.Callsign
}

// ConnectionType returns the detected connection type
func (s *Session) ConnectionType() ConnectionType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionType
}

// ConnectedAt returns when the session reached CONNECTED
func (s *Session) ConnectedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// ApplyOptions narrows the slot talkgroup sets from an RPTO request. The
// configured sets are master; requested talkgroups outside them are dropped.
// A slot absent from the request keeps its current set.
func (s *Session) ApplyOptions(opts *protocol.RPTOPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.HasTS1 {
		s.slot1TGs = s.policyConfig.Slot1TGs.Intersect(opts.TS1)
	}
	if opts.HasTS2 {
		s.slot2TGs = s.policyConfig.Slot2TGs.Intersect(opts.TS2)
	}
	s.rptoReceived = true
}

// SlotTGs returns the effective talkgroup set for a slot
func (s *Session) SlotTGs(slot int) *policy.TalkgroupSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slot == protocol.Timeslot2 {
		return s.slot2TGs
	}
	return s.slot1TGs
}

// RPTOReceived reports whether the peer selected its own talkgroups
func (s *Session) RPTOReceived() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rptoReceived
}

// TouchPing records a successful keepalive from the peer
func (s *Session) TouchPing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPingAt = time.Now()
	s.missedPings = 0
}

// MissPing increments the missed-ping counter and returns the new value
func (s *Session) MissPing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missedPings++
	return s.missedPings
}

// AccountMissedPings recomputes the missed-ping counter from the silence
// since the last accepted keepalive and returns the new count. Inbound peers
// ping us, so their misses are observed by elapsed time rather than by a
// send loop. The counter only ratchets up; TouchPing resets it.
func (s *Session) AccountMissedPings(keepalive time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keepalive <= 0 || s.lastPingAt.IsZero() {
		return s.missedPings
	}
	if n := int(time.Since(s.lastPingAt) / keepalive); n > s.missedPings {
		s.missedPings = n
	}
	return s.missedPings
}

// MissedPings returns the current missed-ping count
func (s *Session) MissedPings() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missedPings
}

// LastPingAt returns the time of the last accepted keepalive
func (s *Session) LastPingAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPingAt
}

// IsTimedOut reports whether the peer has gone silent long enough to be
// declared dead: no ping for keepalive x (maxMissed + 1).
func (s *Session) IsTimedOut(keepalive time.Duration, maxMissed int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastPingAt.IsZero() {
		return false
	}
	return time.Since(s.lastPingAt) > keepalive*time.Duration(maxMissed+1)
}

// SlotStream returns the stream occupying a slot, nil when free
func (s *Session) SlotStream(slot int) *stream.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slot == protocol.Timeslot2 {
		return s.slot2Stream
	}
	return s.slot1Stream
}

// SetSlotStream installs or clears (nil) the stream on a slot
func (s *Session) SetSlotStream(slot int, st *stream.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot == protocol.Timeslot2 {
		s.slot2Stream = st
	} else {
		s.slot1Stream = st
	}
}

// ReleaseSlots clears both slots and returns the streams that were held
func (s *Session) ReleaseSlots() []*stream.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []*stream.Stream
	if s.slot1Stream != nil {
		released = append(released, s.slot1Stream)
		s.slot1Stream = nil
	}
	if s.slot2Stream != nil {
		released = append(released, s.slot2Stream)
		s.slot2Stream = nil
	}
	return released
}

// RecordReceived accounts one received datagram
func (s *Session) RecordReceived(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsReceived++
	s.bytesReceived += uint64(bytes)
}

// RecordSent accounts one sent datagram
func (s *Session) RecordSent(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsSent++
	s.bytesSent += uint64(bytes)
}

// Stats returns the traffic counters: packets and bytes, received then sent
func (s *Session) Stats() (pktsRx, bytesRx, pktsTx, bytesTx uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packetsReceived, s.bytesReceived, s.packetsSent, s.bytesSent
}
