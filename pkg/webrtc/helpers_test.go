package webrtc

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// ciTimeout stretches d on CI runners, where peer connections are slower to
// come up.
func ciTimeout(d time.Duration) time.Duration {
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		return 2 * d
	}
	return d
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession records what the connection asks of it. Handlers are fired by
// the test, never from inside a Session method.
type fakeSession struct {
	mu       sync.Mutex
	handlers SessionHandlers

	offerErr  error
	answerErr error
	// when set, CreateOffer and CreateAnswer wait for it to close
	hold chan struct{}

	label      string
	local      *SessionDescription
	remote     *SessionDescription
	candidates []ICECandidateInit
	sent       [][]byte
	closed     bool
}

func (s *fakeSession) wait() {
	if s.hold != nil {
		<-s.hold
	}
}

func (s *fakeSession) EnsureDataChannel(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.label == "" {
		s.label = label
	}
	return nil
}

func (s *fakeSession) CreateOffer() (SessionDescription, error) {
	s.wait()
	if s.offerErr != nil {
		return SessionDescription{}, s.offerErr
	}
	return offerDesc("local-offer"), nil
}

func (s *fakeSession) CreateAnswer() (SessionDescription, error) {
	s.wait()
	if s.answerErr != nil {
		return SessionDescription{}, s.answerErr
	}
	return answerDesc("local-answer"), nil
}

func (s *fakeSession) SetLocalDescription(desc SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.local = &desc
	return nil
}

func (s *fakeSession) SetRemoteDescription(desc SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.remote = &desc
	return nil
}

func (s *fakeSession) AddCandidate(candidate ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, candidate)
	return nil
}

func (s *fakeSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, data)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) remoteDescription() *SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

type fakeFactory struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	configure func(*fakeSession)
}

func (f *fakeFactory) New(handlers SessionHandlers) (Session, error) {
	s := &fakeSession{handlers: handlers}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configure != nil {
		f.configure(s)
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) latest() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type recordingRelay struct {
	mu   sync.Mutex
	sent []SignalMessage
}

func (r *recordingRelay) SendSignal(msg SignalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingRelay) kinds() []SignalKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]SignalKind, 0, len(r.sent))
	for _, m := range r.sent {
		kinds = append(kinds, m.Kind())
	}
	return kinds
}

func (r *recordingRelay) messages() []SignalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SignalMessage(nil), r.sent...)
}

// eventLog drains a connection's events for the lifetime of the test.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func collectEvents(conn *Connection) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for ev := range conn.Events() {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) transitions() []StateChanged {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []StateChanged
	for _, ev := range l.events {
		if sc, ok := ev.(StateChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}

func (l *eventLog) data() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out [][]byte
	for _, ev := range l.events {
		if dr, ok := ev.(DataReceived); ok {
			out = append(out, dr.Data)
		}
	}
	return out
}

func (l *eventLog) states() []State {
	var out []State
	for _, sc := range l.transitions() {
		out = append(out, sc.To)
	}
	return out
}

func newTestConnection(t *testing.T, timeout time.Duration, configure func(*fakeSession)) (*Connection, *fakeFactory, *recordingRelay, *eventLog) {
	t.Helper()
	factory := &fakeFactory{configure: configure}
	relay := &recordingRelay{}
	conn, err := NewConnection(Config{NegotiationTimeout: timeout, Logger: discardLogger()}, relay, factory.New)
	require.NoError(t, err)
	log := collectEvents(conn)
	t.Cleanup(func() {
		conn.Close()
		<-log.done
	})
	return conn, factory, relay, log
}

func offerDesc(sdp string) SessionDescription {
	return SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func answerDesc(sdp string) SessionDescription {
	return SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

func waitState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want }, time.Second, 2*time.Millisecond,
		"state is %s, want %s", conn.State(), want)
}
