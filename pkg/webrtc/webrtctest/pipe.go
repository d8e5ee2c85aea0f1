// Package webrtctest provides an in-memory Session pair for tests that need
// two Connections to talk without a real peer connection.
package webrtctest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerSplice/pkg/concurrency"
	peer "github.com/rescp17/peerSplice/pkg/webrtc"
)

var errSessionClosed = errors.New("pipe session closed")

// Pipe links the most recent session of each side. The channel opens once
// both sides hold a local and a remote description.
type Pipe struct {
	mu    sync.Mutex
	sides [2]*session
	// sessions counts sessions created per side
	sessions [2]int
}

func NewPipe() *Pipe {
	return &Pipe{}
}

// Factory returns the session factory for side 0 or 1.
func (p *Pipe) Factory(side int) peer.SessionFactory {
	if side != 0 && side != 1 {
		panic(fmt.Sprintf("webrtctest: invalid side %d", side))
	}
	return func(handlers peer.SessionHandlers) (peer.Session, error) {
		s := &session{
			pipe:     p,
			side:     side,
			handlers: handlers,
			notify:   concurrency.NewMailbox[func()](),
		}
		go s.notify.Drain(func(fn func()) { fn() })

		p.mu.Lock()
		p.sides[side] = s
		p.sessions[side]++
		p.mu.Unlock()
		return s, nil
	}
}

// Sessions returns how many sessions side has created.
func (p *Pipe) Sessions(side int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[side]
}

func (p *Pipe) peerOf(s *session) *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sides[s.side] != s {
		return nil
	}
	return p.sides[1-s.side]
}

func (p *Pipe) maybeOpen() {
	p.mu.Lock()
	a, b := p.sides[0], p.sides[1]
	p.mu.Unlock()
	if a == nil || b == nil {
		return
	}

	a.mu.Lock()
	b.mu.Lock()
	ready := a.negotiated() && b.negotiated() && !a.open && !b.open
	if ready {
		a.open, b.open = true, true
	}
	b.mu.Unlock()
	a.mu.Unlock()

	if ready {
		a.fire(a.handlers.OnChannelOpen)
		b.fire(b.handlers.OnChannelOpen)
	}
}

type session struct {
	pipe     *Pipe
	side     int
	handlers peer.SessionHandlers
	notify   *concurrency.Mailbox[func()]

	mu     sync.Mutex
	local  bool
	remote bool
	open   bool
	closed bool
}

func (s *session) negotiated() bool {
	return s.local && s.remote && !s.closed
}

func (s *session) fire(fn func()) {
	if fn != nil {
		s.notify.Put(fn)
	}
}

func (s *session) EnsureDataChannel(string) error {
	return nil
}

func (s *session) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("pipe-offer-%d", s.side)}, nil
}

func (s *session) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("pipe-answer-%d", s.side)}, nil
}

// SetLocalDescription also reports one host candidate, as gathering would.
func (s *session) SetLocalDescription(webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.local = true
	s.mu.Unlock()

	if s.handlers.OnCandidate != nil {
		candidate := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:pipe-%d 1 udp 1 127.0.0.1 9 typ host", s.side)}
		s.fire(func() { s.handlers.OnCandidate(candidate) })
	}
	s.pipe.maybeOpen()
	return nil
}

func (s *session) SetRemoteDescription(webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.remote = true
	s.mu.Unlock()
	s.pipe.maybeOpen()
	return nil
}

func (s *session) AddCandidate(webrtc.ICECandidateInit) error {
	return nil
}

func (s *session) Send(data []byte) error {
	s.mu.Lock()
	open, closed := s.open, s.closed
	s.mu.Unlock()
	if closed {
		return peer.ErrConnectionClosed
	}
	if !open {
		return peer.ErrChannelNotReady
	}
	other := s.pipe.peerOf(s)
	if other == nil {
		return peer.ErrChannelNotReady
	}
	frame := append([]byte(nil), data...)
	if other.handlers.OnMessage != nil {
		other.fire(func() { other.handlers.OnMessage(frame) })
	}
	return nil
}

// Close closes the channel on both ends.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.open
	s.closed, s.open = true, false
	s.mu.Unlock()

	if wasOpen {
		if other := s.pipe.peerOf(s); other != nil {
			other.mu.Lock()
			otherOpen := other.open
			other.open = false
			other.mu.Unlock()
			if otherOpen {
				other.fire(other.handlers.OnChannelClose)
			}
		}
	}
	s.notify.Close()
	return nil
}
