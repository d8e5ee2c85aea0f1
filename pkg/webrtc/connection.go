package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rescp17/peerSplice/pkg/concurrency"
)

// State is the lifecycle state of a Connection.
type State int

const (
	StateClosed State = iota
	StateEstablishing
	StateReady
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateEstablishing:
		return "establishing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Connection negotiates a data channel with one remote peer through a
// signaling relay and exposes send/receive once the channel is open.
//
// Every reset replaces the session handle and bumps the generation; work and
// callbacks that belong to an older generation are discarded.
type Connection struct {
	config  Config
	relay   Signaler
	factory SessionFactory
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	session    Session
	generation uint64
	closed     bool

	// local candidates wait until this round's offer or answer is queued
	descriptionSent   bool
	pendingCandidates []SignalMessage
	timer             *time.Timer

	outbox  *concurrency.Mailbox[SignalMessage]
	events  *concurrency.Mailbox[Event]
	eventCh chan Event
}

// NewConnection creates a Connection in the Closed state. A nil factory uses
// pion sessions built from config.
func NewConnection(config Config, relay Signaler, factory SessionFactory) (*Connection, error) {
	if relay == nil {
		return nil, errors.New("signaler is not configured")
	}
	config = config.withDefaults()
	if factory == nil {
		factory = NewWebRTCAPI(config).SessionFactory()
	}

	c := &Connection{
		config:  config,
		relay:   relay,
		factory: factory,
		logger:  config.Logger.With("component", "connection"),
		state:   StateClosed,
		outbox:  concurrency.NewMailbox[SignalMessage](),
		events:  concurrency.NewMailbox[Event](),
		eventCh: make(chan Event),
	}

	c.mu.Lock()
	err := c.installSessionLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go c.outbox.Drain(c.deliver)
	go func() {
		c.events.Drain(func(ev Event) { c.eventCh <- ev })
		close(c.eventCh)
	}()
	return c, nil
}

// Events delivers state changes and inbound data in order. The channel is
// closed after Close; callers must keep receiving until then.
func (c *Connection) Events() <-chan Event {
	return c.eventCh
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a negotiation round as the offering side. Failures are
// reported through a StateChanged event to StateError.
func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.state != StateClosed && c.state != StateError {
		return fmt.Errorf("%w: start in state %s", ErrInvalidStateTransition, c.state)
	}
	if c.session == nil {
		if err := c.installSessionLocked(); err != nil {
			return err
		}
	}

	c.setStateLocked(StateEstablishing, nil)
	c.beginRoundLocked()

	if err := c.session.EnsureDataChannel(c.config.DataChannelLabel); err != nil {
		c.failLocked(fmt.Errorf("%w: %w", ErrNegotiationFailed, err))
		return nil
	}
	go c.offer(c.generation, c.session)
	return nil
}

// Stop abandons negotiation or closes the open channel, telling the remote
// peer, and returns to StateClosed.
func (c *Connection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.state != StateReady && c.state != StateEstablishing {
		return fmt.Errorf("%w: stop in state %s", ErrInvalidStateTransition, c.state)
	}
	c.setStateLocked(StateClosing, nil)
	c.outbox.Put(NewCloseMessage())
	c.resetLocked()
	c.setStateLocked(StateClosed, nil)
	return nil
}

// ReceiveSignal applies a signal relayed from the remote peer.
func (c *Connection) ReceiveSignal(msg SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	switch msg.Kind() {
	case SignalCandidate:
		candidate, err := msg.Candidate()
		if err != nil {
			return err
		}
		if c.session == nil {
			return nil
		}
		return c.session.AddCandidate(candidate)

	case SignalOffer:
		offer, err := msg.Description()
		if err != nil {
			return err
		}
		// a new offer replaces whatever round is in progress
		if c.state == StateEstablishing || c.state == StateReady {
			c.logger.Info("remote offer replaces current session", "state", c.state.String())
			c.resetLocked()
		}
		if c.session == nil {
			if err := c.installSessionLocked(); err != nil {
				c.setStateLocked(StateError, fmt.Errorf("%w: %w", ErrNegotiationFailed, err))
				return nil
			}
		}
		c.setStateLocked(StateEstablishing, nil)
		c.beginRoundLocked()
		go c.answer(c.generation, c.session, offer)
		return nil

	case SignalAnswer:
		answer, err := msg.Description()
		if err != nil {
			return err
		}
		if c.state != StateEstablishing {
			return fmt.Errorf("%w: answer in state %s", ErrInvalidStateTransition, c.state)
		}
		go c.applyAnswer(c.generation, c.session, answer)
		return nil

	case SignalClose:
		if c.state == StateClosed {
			return nil
		}
		c.setStateLocked(StateClosing, nil)
		c.resetLocked()
		c.setStateLocked(StateClosed, nil)
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, msg.Kind())
	}
}

// Send writes data to the open channel. It returns ErrChannelNotReady
// outside StateReady.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrChannelNotReady, state)
	}
	session := c.session
	c.mu.Unlock()

	return session.Send(data)
}

// Close tears the connection down for good. A Close signal is sent first if
// a round was in progress or the channel was open.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.state == StateReady || c.state == StateEstablishing {
		c.setStateLocked(StateClosing, nil)
		c.outbox.Put(NewCloseMessage())
	}
	c.stopTimerLocked()
	c.generation++
	err := c.closeSessionLocked()
	if c.state != StateClosed {
		c.setStateLocked(StateClosed, nil)
	}
	c.closed = true
	c.outbox.Close()
	c.events.Close()
	return err
}

func (c *Connection) offer(gen uint64, session Session) {
	desc, err := session.CreateOffer()
	if err != nil {
		c.negotiationDone(gen, fmt.Errorf("failed to create offer: %w", err), SignalMessage{})
		return
	}
	if err := session.SetLocalDescription(desc); err != nil {
		c.negotiationDone(gen, fmt.Errorf("failed to set local description: %w", err), SignalMessage{})
		return
	}
	msg, err := NewOfferMessage(desc)
	c.negotiationDone(gen, err, msg)
}

func (c *Connection) answer(gen uint64, session Session, offer SessionDescription) {
	if err := session.SetRemoteDescription(offer); err != nil {
		c.negotiationDone(gen, fmt.Errorf("failed to set remote description: %w", err), SignalMessage{})
		return
	}
	desc, err := session.CreateAnswer()
	if err != nil {
		c.negotiationDone(gen, fmt.Errorf("failed to create answer: %w", err), SignalMessage{})
		return
	}
	if err := session.SetLocalDescription(desc); err != nil {
		c.negotiationDone(gen, fmt.Errorf("failed to set local description for answer: %w", err), SignalMessage{})
		return
	}
	msg, err := NewAnswerMessage(desc)
	c.negotiationDone(gen, err, msg)
}

func (c *Connection) applyAnswer(gen uint64, session Session, answer SessionDescription) {
	err := session.SetRemoteDescription(answer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.Debug("discarding stale answer", "generation", gen)
		return
	}
	if err != nil {
		c.failLocked(fmt.Errorf("%w: failed to set remote description: %w", ErrNegotiationFailed, err))
	}
}

// negotiationDone queues the local offer or answer and releases candidates
// held back for it. Results from an older generation are dropped.
func (c *Connection) negotiationDone(gen uint64, err error, msg SignalMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.logger.Debug("discarding stale negotiation result", "generation", gen)
		return
	}
	if err != nil {
		c.failLocked(fmt.Errorf("%w: %w", ErrNegotiationFailed, err))
		return
	}

	c.outbox.Put(msg)
	c.descriptionSent = true
	for _, candidate := range c.pendingCandidates {
		c.outbox.Put(candidate)
	}
	c.pendingCandidates = nil
}

func (c *Connection) deliver(msg SignalMessage) {
	if err := c.relay.SendSignal(msg); err != nil {
		c.logger.Warn("relay failed to send signal", "kind", msg.Kind(), "error", err)
	}
}

// installSessionLocked creates a session whose callbacks are bound to the
// current generation.
func (c *Connection) installSessionLocked() error {
	gen := c.generation
	session, err := c.factory(SessionHandlers{
		OnChannelOpen:  func() { c.onChannelOpen(gen) },
		OnChannelClose: func() { c.onChannelClose(gen) },
		OnMessage:      func(data []byte) { c.onMessage(gen, data) },
		OnCandidate:    func(candidate ICECandidateInit) { c.onLocalCandidate(gen, candidate) },
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	c.session = session
	return nil
}

func (c *Connection) closeSessionLocked() error {
	if c.session == nil {
		return nil
	}
	old := c.session
	c.session = nil
	if err := old.Close(); err != nil {
		c.logger.Warn("failed to close session", "error", err)
		return err
	}
	return nil
}

// resetLocked tears down the current session before installing a fresh one.
// It is safe to call repeatedly.
func (c *Connection) resetLocked() {
	c.stopTimerLocked()
	c.generation++
	c.descriptionSent = false
	c.pendingCandidates = nil
	c.closeSessionLocked()
	if err := c.installSessionLocked(); err != nil {
		c.logger.Error("failed to recreate session", "error", err)
	}
}

func (c *Connection) failLocked(err error) {
	c.logger.Warn("negotiation failed", "error", err)
	c.resetLocked()
	c.setStateLocked(StateError, err)
}

func (c *Connection) beginRoundLocked() {
	c.descriptionSent = false
	c.pendingCandidates = nil
	c.stopTimerLocked()
	if c.config.NegotiationTimeout > 0 {
		gen := c.generation
		c.timer = time.AfterFunc(c.config.NegotiationTimeout, func() { c.onNegotiationTimeout(gen) })
	}
}

func (c *Connection) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connection) setStateLocked(to State, err error) {
	from := c.state
	c.state = to
	if err != nil {
		c.logger.Info("connection state changed", "from", from.String(), "to", to.String(), "error", err)
	} else {
		c.logger.Debug("connection state changed", "from", from.String(), "to", to.String())
	}
	c.events.Put(StateChanged{From: from, To: to, Err: err})
}

func (c *Connection) onNegotiationTimeout(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state != StateEstablishing || c.closed {
		return
	}
	c.failLocked(fmt.Errorf("%w after %s", ErrNegotiationTimeout, c.config.NegotiationTimeout))
}

func (c *Connection) onChannelOpen(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state != StateEstablishing {
		return
	}
	c.stopTimerLocked()
	c.setStateLocked(StateReady, nil)
}

func (c *Connection) onChannelClose(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state == StateClosed || c.closed {
		return
	}
	c.resetLocked()
	c.setStateLocked(StateClosed, nil)
}

func (c *Connection) onMessage(gen uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.events.Put(DataReceived{Data: data})
}

func (c *Connection) onLocalCandidate(gen uint64, candidate ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	msg, err := NewCandidateMessage(candidate)
	if err != nil {
		c.logger.Warn("failed to encode local candidate", "error", err)
		return
	}
	if !c.descriptionSent {
		c.pendingCandidates = append(c.pendingCandidates, msg)
		return
	}
	c.outbox.Put(msg)
}
