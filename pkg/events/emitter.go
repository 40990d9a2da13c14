package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dbehnke/hbp-server/pkg/logger"
)

const (
	// DefaultQueueSize bounds the event queue; overflow drops oldest
	DefaultQueueSize = 1024

	// maxObserverFrame bounds inbound frames (observers only send tiny
	// sync_request objects)
	maxObserverFrame = 4096

	writeTimeout = time.Second
)

// Config holds emitter configuration
type Config struct {
	Enabled    bool
	Transport  string // "unix" or "tcp"
	Host       string
	Port       int
	UnixSocket string
	IPv4Only   bool
	QueueSize  int
}

// SnapshotFunc produces the full-state event sequence pushed to a freshly
// connected observer and on sync_request.
type SnapshotFunc func() []Event

// Emitter streams length-framed JSON events to at most one observer over a
// unix or TCP stream socket. Emission never blocks the caller: events pass
// through a bounded queue that drops oldest on overflow, and are discarded
// when no observer is attached.
type Emitter struct {
	cfg      Config
	log      *logger.Logger
	queue    chan Event
	snapshot SnapshotFunc

	mu       sync.Mutex
	observer net.Conn
	listener net.Listener

	done    chan struct{}
	drained chan struct{}
}

// New creates an emitter; call SetSnapshot before Start
func New(cfg Config, log *logger.Logger) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Emitter{
		cfg:     cfg,
		log:     log.WithComponent("events"),
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// SetSnapshot installs the state-resync callback
func (e *Emitter) SetSnapshot(fn SnapshotFunc) {
	e.snapshot = fn
}

// Start binds the observer socket and launches the accept and writer loops
func (e *Emitter) Start() error {
	if !e.cfg.Enabled {
		e.log.Info("Event emitter disabled")
		go e.writeLoop() // still drain the queue so Emit stays cheap
		return nil
	}

	listener, err := e.listen()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.listener = listener
	e.mu.Unlock()

	e.log.Info("Event emitter listening",
		logger.String("transport", e.cfg.Transport),
		logger.String("address", listener.Addr().String()))

	go e.acceptLoop(listener)
	go e.writeLoop()
	return nil
}

func (e *Emitter) listen() (net.Listener, error) {
	switch e.cfg.Transport {
	case "unix":
		// A previous run may have left the socket file behind
		if err := os.Remove(e.cfg.UnixSocket); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", e.cfg.UnixSocket, err)
		}
		listener, err := net.Listen("unix", e.cfg.UnixSocket)
		if err != nil {
			return nil, fmt.Errorf("binding unix socket %s: %w", e.cfg.UnixSocket, err)
		}
		if err := os.Chmod(e.cfg.UnixSocket, 0o660); err != nil {
			listener.Close()
			return nil, fmt.Errorf("setting socket permissions: %w", err)
		}
		return listener, nil
	case "tcp":
		network := "tcp"
		if e.cfg.IPv4Only {
			network = "tcp4"
		}
		addr := net.JoinHostPort(e.cfg.Host, fmt.Sprintf("%d", e.cfg.Port))
		listener, err := net.Listen(network, addr)
		if err != nil {
			return nil, fmt.Errorf("binding event socket %s: %w", addr, err)
		}
		return listener, nil
	default:
		return nil, fmt.Errorf("unknown event transport %q", e.cfg.Transport)
	}
}

// Emit queues an event for delivery. Never blocks: when the queue is full
// the oldest queued event is dropped to make room.
func (e *Emitter) Emit(ev Event) {
	select {
	case e.queue <- ev:
		return
	default:
	}

	select {
	case <-e.queue:
	default:
	}
	select {
	case e.queue <- ev:
	default:
	}
}

// Stop drains the queue best-effort within the deadline, then closes the
// observer socket and listener.
func (e *Emitter) Stop(flushDeadline time.Duration) {
	close(e.done)
	select {
	case <-e.drained:
	case <-time.After(flushDeadline):
	}

	e.mu.Lock()
	if e.listener != nil {
		e.listener.Close()
	}
	if e.observer != nil {
		e.observer.Close()
		e.observer = nil
	}
	e.mu.Unlock()

	if e.cfg.Transport == "unix" && e.cfg.Enabled {
		os.Remove(e.cfg.UnixSocket)
	}
}

func (e *Emitter) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return // listener closed
		}

		e.mu.Lock()
		if e.observer != nil {
			// One observer at a time; the newcomer wins
			e.observer.Close()
		}
		e.observer = conn
		e.mu.Unlock()

		e.log.Info("Observer connected", logger.String("remote", conn.RemoteAddr().String()))

		e.pushSnapshot()
		go e.readLoop(conn)
	}
}

// readLoop services sync_request frames from the observer
func (e *Emitter) readLoop(conn net.Conn) {
	for {
		payload, err := readFrame(conn)
		if err != nil {
			e.dropObserver(conn, err)
			return
		}

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &frame); err != nil {
			e.log.Debug("Ignoring malformed observer frame", logger.Error(err))
			continue
		}
		if frame.Type == TypeSyncRequest {
			e.pushSnapshot()
		}
	}
}

func (e *Emitter) pushSnapshot() {
	if e.snapshot == nil {
		return
	}
	for _, ev := range e.snapshot() {
		e.Emit(ev)
	}
}

func (e *Emitter) writeLoop() {
	defer close(e.drained)
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ev)
		case <-e.done:
			for {
				select {
				case ev := <-e.queue:
					e.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Emitter) deliver(ev Event) {
	e.mu.Lock()
	conn := e.observer
	e.mu.Unlock()

	if conn == nil {
		return // no observer, drop at the boundary
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.Error("Failed to encode event", logger.String("type", ev.Type), logger.Error(err))
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := writeFrame(conn, payload); err != nil {
		e.dropObserver(conn, err)
	}
}

// dropObserver detaches the observer, logging once per disconnect
func (e *Emitter) dropObserver(conn net.Conn, err error) {
	e.mu.Lock()
	current := e.observer == conn
	if current {
		e.observer = nil
	}
	e.mu.Unlock()

	conn.Close()
	if current {
		e.log.Info("Observer disconnected", logger.Error(err))
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(length[:])
	if size > maxObserverFrame {
		return nil, fmt.Errorf("observer frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
