package webrtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rescp17/peerSplice/pkg/concurrency"
)

// Session is the negotiation handle a Connection drives. Each handle backs a
// single negotiation round and is discarded on reset.
type Session interface {
	// EnsureDataChannel creates the local data channel unless one exists.
	EnsureDataChannel(label string) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddCandidate(candidate webrtc.ICECandidateInit) error
	Send(data []byte) error
	Close() error
}

// SessionHandlers receive a session's asynchronous notifications. They are
// called one at a time, in the order the transport produced them, never
// from inside a Session method.
type SessionHandlers struct {
	OnChannelOpen  func()
	OnChannelClose func()
	OnMessage      func(data []byte)
	OnCandidate    func(candidate webrtc.ICECandidateInit)
}

// SessionFactory builds a fresh Session bound to handlers.
type SessionFactory func(handlers SessionHandlers) (Session, error)

const (
	MTU uint = 1400

	DefaultSTUNServer       = "stun:stun.l.google.com:19302"
	DefaultDataChannelLabel = "defaultDataChannel"
	DefaultNegotiationTime  = 30 * time.Second

	// Send blocks while more than this many bytes are queued on the channel
	bufferedAmountHigh uint64 = 1 << 20
	bufferedAmountLow  uint64 = 256 << 10
)

// Config holds the configuration for creating a new Connection.
type Config struct {
	ICEServers []webrtc.ICEServer
	// NegotiationTimeout bounds a negotiation round; zero disables it
	NegotiationTimeout time.Duration
	DataChannelLabel   string
	// Ordered requests in-order delivery; segments carry their own index
	Ordered bool
	// MulticastDNS controls .local candidate gathering and resolution
	MulticastDNS ice.MulticastDNSMode
	Logger       *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		ICEServers:         []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}},
		NegotiationTimeout: DefaultNegotiationTime,
		DataChannelLabel:   DefaultDataChannelLabel,
		MulticastDNS:       ice.MulticastDNSModeQueryAndGather,
	}
}

func (c Config) withDefaults() Config {
	if len(c.ICEServers) == 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: []string{DefaultSTUNServer}}}
	}
	if c.DataChannelLabel == "" {
		c.DataChannelLabel = DefaultDataChannelLabel
	}
	if c.MulticastDNS == 0 {
		c.MulticastDNS = ice.MulticastDNSModeQueryAndGather
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type WebRTCAPI struct {
	api    *webrtc.API
	config Config
}

func NewWebRTCAPI(config Config) *WebRTCAPI {
	config = config.withDefaults()

	settings := webrtc.SettingEngine{}
	settings.SetICEMulticastDNSMode(config.MulticastDNS)
	settings.SetReceiveMTU(MTU)

	// A dedicated API keeps setting engines apart when several peers share a process.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settings))
	return &WebRTCAPI{
		api:    api,
		config: config,
	}
}

// SessionFactory returns a factory producing pion backed sessions.
func (a *WebRTCAPI) SessionFactory() SessionFactory {
	return a.NewSession
}

func (a *WebRTCAPI) NewSession(handlers SessionHandlers) (Session, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: a.config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &peerSession{
		pc:       pc,
		ordered:  a.config.Ordered,
		handlers: handlers,
		logger:   a.config.Logger,
		notify:   concurrency.NewMailbox[func()](),
		lowWater: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.notify.Drain(func(fn func()) { fn() })

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || handlers.OnCandidate == nil {
			return
		}
		cand := candidate.ToJSON()
		s.notify.Put(func() { handlers.OnCandidate(cand) })
	})
	pc.OnDataChannel(s.attach)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed && handlers.OnChannelClose != nil {
			s.notify.Put(handlers.OnChannelClose)
		}
	})
	return s, nil
}

// peerSession adapts a pion PeerConnection to Session. Pion callbacks are
// queued on notify so handlers never run on pion's goroutines.
type peerSession struct {
	pc       *webrtc.PeerConnection
	ordered  bool
	handlers SessionHandlers
	logger   *slog.Logger
	notify   *concurrency.Mailbox[func()]

	mu            sync.Mutex
	dc            *webrtc.DataChannel
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
	closed        bool

	lowWater chan struct{}
	done     chan struct{}
}

func (s *peerSession) attach(dc *webrtc.DataChannel) {
	s.mu.Lock()
	if s.dc != nil && s.dc != dc {
		s.mu.Unlock()
		s.logger.Warn("ignoring extra data channel", "label", dc.Label())
		return
	}
	s.dc = dc
	s.mu.Unlock()

	dc.SetBufferedAmountLowThreshold(bufferedAmountLow)
	dc.OnBufferedAmountLow(func() {
		select {
		case s.lowWater <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(func() {
		if s.handlers.OnChannelOpen != nil {
			s.notify.Put(s.handlers.OnChannelOpen)
		}
	})
	dc.OnClose(func() {
		if s.handlers.OnChannelClose != nil {
			s.notify.Put(s.handlers.OnChannelClose)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if s.handlers.OnMessage != nil {
			data := msg.Data
			s.notify.Put(func() { s.handlers.OnMessage(data) })
		}
	})
}

func (s *peerSession) EnsureDataChannel(label string) error {
	s.mu.Lock()
	exists := s.dc != nil
	s.mu.Unlock()
	if exists {
		return nil
	}

	ordered := s.ordered
	dc, err := s.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	s.attach(dc)
	return nil
}

func (s *peerSession) CreateOffer() (webrtc.SessionDescription, error) {
	return s.pc.CreateOffer(nil)
}

func (s *peerSession) CreateAnswer() (webrtc.SessionDescription, error) {
	return s.pc.CreateAnswer(nil)
}

func (s *peerSession) SetLocalDescription(desc webrtc.SessionDescription) error {
	return s.pc.SetLocalDescription(desc)
}

// SetRemoteDescription applies desc, then any candidates that arrived early.
func (s *peerSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingRemote
	s.pendingRemote = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warn("failed to add buffered ICE candidate", "error", err)
		}
	}
	return nil
}

// AddCandidate buffers candidates until the remote description is set, since
// the relay may deliver them ahead of the offer or answer.
func (s *peerSession) AddCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pendingRemote = append(s.pendingRemote, candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (s *peerSession) Send(data []byte) error {
	s.mu.Lock()
	dc := s.dc
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrConnectionClosed
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotReady
	}
	for dc.BufferedAmount() > bufferedAmountHigh {
		select {
		case <-s.lowWater:
		case <-s.done:
			return ErrConnectionClosed
		case <-time.After(time.Second):
			// the low water callback can race with the check above
		}
	}
	return dc.Send(data)
}

func (s *peerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	err := s.pc.Close()
	s.notify.Close()
	return err
}
