// manager.go
// Central event loop. The manager owns the connection set and the session
// registry; every mutation of either happens on the Run goroutine, so a join
// and a disconnect racing for the same user are applied one after the other.

package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"keyrelay/internal/keys"
)

// ErrClosed is returned to callers once the manager loop has exited.
var ErrClosed = errors.New("hub: manager closed")

// Options tune hub behaviour.
type Options struct {
	// StrictHandshake makes the coordinator track pending key requests and
	// drop approvals that answer no request.
	StrictHandshake bool
	// RequireSharedKey makes the relay drop messages for pairs where the
	// sender never received the receiver's key.
	RequireSharedKey bool
}

type event struct {
	client  *Client
	join    *JoinPayload
	keys    *keys.KeyPair
	request *KeyRequest
	share   *KeyShare
	message *OutgoingMessage
}

// pair is an ordered (from, to) pair of users.
type pair struct {
	from, to UserID
}

// Manager runs the hub event loop and owns all hub state.
type Manager struct {
	opts     Options
	provider *keys.Provider
	metrics  *Metrics
	log      logrus.FieldLogger

	clients  map[*Client]bool
	registry *Registry
	// pending maps requester->target to the request id (strict mode only).
	pending map[pair]string
	// shared holds holder->owner for every delivered public key.
	shared map[pair]struct{}
	// stale collects clients dropped for a full queue during one event.
	stale []*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan event
	done       chan struct{}
}

// NewManager builds a Manager. Nil provider, metrics or log get defaults.
func NewManager(opts Options, provider *keys.Provider, metrics *Metrics, log logrus.FieldLogger) *Manager {
	if provider == nil {
		provider = keys.NewProvider(1, nil)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		opts:       opts,
		provider:   provider,
		metrics:    metrics,
		log:        log,
		clients:    make(map[*Client]bool),
		registry:   NewRegistry(),
		pending:    make(map[pair]string),
		shared:     make(map[pair]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan event),
		done:       make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. On return every outbound
// queue is closed and all key material is wiped.
func (m *Manager) Run(ctx context.Context) {
	defer m.teardown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-m.register:
			m.clients[c] = true
			m.metrics.Connections.Inc()
			m.log.WithField("conn", c.id).Debug("connection registered")

		case c := <-m.unregister:
			if m.clients[c] {
				m.disconnect(c)
			}

		case ev := <-m.inbound:
			m.dispatch(ev)
		}
		m.reap()
	}
}

func (m *Manager) teardown() {
	close(m.done)
	for c := range m.clients {
		close(c.send)
		delete(m.clients, c)
	}
	m.registry.Clear()
	m.metrics.Connections.Set(0)
	m.metrics.Sessions.Set(0)
}

// Register adds c to the set of open connections.
func (m *Manager) Register(ctx context.Context, c *Client) error {
	select {
	case m.register <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Unregister closes c's queue and evicts any session bound to it. It is
// safe to call more than once.
func (m *Manager) Unregister(ctx context.Context, c *Client) error {
	select {
	case m.unregister <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Handle decodes one inbound frame from c and applies it. Key generation for
// a join runs here, on the caller's goroutine, before the loop sees it.
// The returned error only describes a bad frame; protocol failures are
// silent.
func (m *Manager) Handle(ctx context.Context, c *Client, raw []byte) error {
	f, err := DecodeFrame(raw)
	if err != nil {
		return err
	}

	ev := event{client: c}
	switch f.Event {
	case EventJoin:
		var p JoinPayload
		if err := decodePayload(f, &p); err != nil {
			return err
		}
		if p.UserID == "" {
			return fmt.Errorf("%w: join without userId", ErrMalformedFrame)
		}
		if !c.permits(p.UserID) {
			m.drop(c, f.Event, "identity_mismatch")
			return nil
		}
		kp, err := m.provider.Generate(ctx)
		if err != nil {
			return fmt.Errorf("provision keys: %w", err)
		}
		ev.join, ev.keys = &p, kp

	case EventRequestPublicKey:
		var p KeyRequest
		if err := decodePayload(f, &p); err != nil {
			return err
		}
		if !c.permits(p.FromUserID) {
			m.drop(c, f.Event, "identity_mismatch")
			return nil
		}
		ev.request = &p

	case EventSharePublicKey:
		var p KeyShare
		if err := decodePayload(f, &p); err != nil {
			return err
		}
		if !c.permits(p.FromUserID) {
			m.drop(c, f.Event, "identity_mismatch")
			return nil
		}
		ev.share = &p

	case EventSendMessage:
		var p OutgoingMessage
		if err := decodePayload(f, &p); err != nil {
			return err
		}
		if !c.permits(p.FromUserID) {
			m.drop(c, f.Event, "identity_mismatch")
			return nil
		}
		ev.message = &p

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}

	if err := m.submit(ctx, ev); err != nil {
		if ev.keys != nil {
			ev.keys.Wipe()
		}
		return err
	}
	return nil
}

func (m *Manager) submit(ctx context.Context, ev event) error {
	select {
	case m.inbound <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) dispatch(ev event) {
	switch {
	case ev.join != nil:
		m.admit(ev.client, ev.join, ev.keys)
	case ev.request != nil:
		m.requestKey(ev.request)
	case ev.share != nil:
		m.shareKey(ev.share)
	case ev.message != nil:
		m.relay(ev.message)
	}
}

func (m *Manager) admit(c *Client, p *JoinPayload, kp *keys.KeyPair) {
	if !m.clients[c] {
		// The connection went away while its keys were being generated.
		kp.Wipe()
		return
	}
	s := &Session{UserID: p.UserID, Username: p.Username, FullName: p.FullName, client: c, keys: kp}
	if prev := m.registry.Admit(s); prev != nil {
		m.forget(prev.UserID)
		m.log.WithFields(logrus.Fields{"user": p.UserID, "conn": c.id, "previous": prev.client.id}).
			Info("session replaced")
	} else {
		m.log.WithFields(logrus.Fields{"user": p.UserID, "conn": c.id}).Info("user joined")
	}
	m.metrics.Sessions.Set(float64(m.registry.Len()))
	m.publish()
}

// disconnect closes c's queue and evicts its sessions.
func (m *Manager) disconnect(c *Client) {
	delete(m.clients, c)
	close(c.send)
	m.metrics.Connections.Dec()
	m.evict(c)
}

func (m *Manager) evict(c *Client) {
	gone := m.registry.Evict(c)
	if len(gone) == 0 {
		return
	}
	for _, s := range gone {
		m.forget(s.UserID)
		m.log.WithFields(logrus.Fields{"user": s.UserID, "conn": c.id}).Info("user left")
	}
	m.metrics.Sessions.Set(float64(m.registry.Len()))
	m.publish()
}

// forget discards handshake state involving user.
func (m *Manager) forget(user UserID) {
	for p := range m.pending {
		if p.from == user || p.to == user {
			delete(m.pending, p)
		}
	}
	for p := range m.shared {
		if p.from == user || p.to == user {
			delete(m.shared, p)
		}
	}
}

// send queues frame for c without blocking. A client whose queue is full is
// closed and collected for eviction once the current event is done.
func (m *Manager) send(c *Client, frame []byte) bool {
	if frame == nil || !m.clients[c] {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		m.log.WithField("conn", c.id).Warn("outbound queue full, dropping connection")
		delete(m.clients, c)
		close(c.send)
		m.metrics.Connections.Dec()
		m.stale = append(m.stale, c)
		return false
	}
}

func (m *Manager) reap() {
	for len(m.stale) > 0 {
		c := m.stale[0]
		m.stale = m.stale[1:]
		m.evict(c)
	}
}

func (m *Manager) reachable(s *Session) bool {
	return m.clients[s.client]
}

func (m *Manager) drop(c *Client, event, reason string) {
	m.metrics.Dropped.WithLabelValues(event, reason).Inc()
	m.log.WithFields(logrus.Fields{"conn": c.id, "event": event, "reason": reason}).Debug("event dropped")
}

func (m *Manager) encode(event string, data any) []byte {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		m.log.WithError(err).Error("encode frame")
		return nil
	}
	return frame
}
