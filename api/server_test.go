package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	peerwebrtc "github.com/rescp17/peerSplice/pkg/webrtc"
)

func newTestRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(ServerConfig{Logger: discardLogger()})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialTestRelay(t *testing.T, url, room, peer string) *RelayClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := DialRelay(ctx, url, room, peer, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func candidateSignal(t *testing.T, candidate string) peerwebrtc.SignalMessage {
	t.Helper()
	msg, err := peerwebrtc.NewCandidateMessage(webrtc.ICECandidateInit{Candidate: candidate})
	require.NoError(t, err)
	return msg
}

func TestBuildWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8080", want: "ws://localhost:8080/ws?peer=p&room=r"},
		{in: "https://relay.example/base/", want: "wss://relay.example/base/ws?peer=p&room=r"},
		{in: "ws://10.0.0.2:9000", want: "ws://10.0.0.2:9000/ws?peer=p&room=r"},
		{in: "ftp://nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := BuildWebSocketURL(tt.in, "r", "p")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServer_RelaysSignalsBetweenPeers(t *testing.T) {
	srv, ts := newTestRelay(t)

	alice := dialTestRelay(t, ts.URL, "room", "alice")
	bob := dialTestRelay(t, ts.URL, "room", "bob")
	require.Eventually(t, func() bool { return len(srv.Hub().Peers("room")) == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan peerwebrtc.SignalMessage, 4)
	go bob.ReadLoop(ctx, func(msg peerwebrtc.SignalMessage) { received <- msg })

	sent := candidateSignal(t, "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host")
	require.NoError(t, alice.SendSignal(sent))
	require.NoError(t, alice.SendSignal(peerwebrtc.NewCloseMessage()))

	select {
	case got := <-received:
		assert.Equal(t, peerwebrtc.SignalCandidate, got.Kind())
		assert.JSONEq(t, string(sent.Payload()), string(got.Payload()))
	case <-time.After(2 * time.Second):
		t.Fatal("candidate not relayed")
	}
	select {
	case got := <-received:
		assert.Equal(t, peerwebrtc.SignalClose, got.Kind())
	case <-time.After(2 * time.Second):
		t.Fatal("close not relayed")
	}
}

func TestServer_RejectsThirdPeer(t *testing.T) {
	srv, ts := newTestRelay(t)
	dialTestRelay(t, ts.URL, "room", "alice")
	dialTestRelay(t, ts.URL, "room", "bob")
	require.Eventually(t, func() bool { return len(srv.Hub().Peers("room")) == 2 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := DialRelay(ctx, ts.URL, "room", "carol", discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestServer_WebSocketRequiresRoomAndPeer(t *testing.T) {
	_, ts := newTestRelay(t)

	resp, err := http.Get(ts.URL + "/ws?room=only")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SendAfterCloseFails(t *testing.T) {
	_, ts := newTestRelay(t)
	c := dialTestRelay(t, ts.URL, "room", "alice")
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.SendSignal(peerwebrtc.NewCloseMessage()), ErrRelayClosed)
}

func TestServer_SendAfterWriteFailureFails(t *testing.T) {
	_, ts := newTestRelay(t)
	c := dialTestRelay(t, ts.URL, "room", "alice")
	require.NoError(t, c.conn.UnderlyingConn().Close())

	// more signals than the send queue holds must not block
	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 1000 && err == nil; i++ {
			err = c.SendSignal(peerwebrtc.NewCloseMessage())
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRelayClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("SendSignal blocked after the write loop stopped")
	}
}

func TestEchoHandler(t *testing.T) {
	_, ts := newTestRelay(t)
	client := NewClient(ts.URL, "svc-1")

	t.Run("echoes JSON", func(t *testing.T) {
		body := `{"type":"close"}`
		got, err := client.Echo(context.Background(), []byte(body))
		require.NoError(t, err)
		assert.JSONEq(t, body, string(got))
	})

	t.Run("rejects non-JSON", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/echo", "application/json", strings.NewReader("not json"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects GET", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/echo")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestEchoDelayRange(t *testing.T) {
	srv := NewServer(ServerConfig{EchoMinDelay: 10 * time.Millisecond, EchoMaxDelay: 20 * time.Millisecond, Logger: discardLogger()})
	for range 100 {
		d := srv.echoDelay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}

	fixed := NewServer(ServerConfig{EchoMinDelay: 5 * time.Millisecond, Logger: discardLogger()})
	assert.Equal(t, 5*time.Millisecond, fixed.echoDelay())
}

func TestServiceIDInjector(t *testing.T) {
	seen := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(serviceIDHeader)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "svc-42").Echo(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "svc-42", <-seen)
}

func TestEchoSignaler_DeliversThroughRelay(t *testing.T) {
	_, ts := newTestRelay(t)
	delivered := make(chan peerwebrtc.SignalMessage, 1)
	s := NewEchoSignaler(context.Background(), NewClient(ts.URL, "svc"), func(m peerwebrtc.SignalMessage) {
		delivered <- m
	}, discardLogger())

	msg := candidateSignal(t, "candidate:2 1 udp 1 10.0.0.2 6000 typ host")
	require.NoError(t, s.SendSignal(msg))

	select {
	case got := <-delivered:
		assert.Equal(t, msg.Kind(), got.Kind())
		assert.JSONEq(t, string(msg.Payload()), string(got.Payload()))
	case <-time.After(2 * time.Second):
		t.Fatal("echo signal not delivered")
	}
}
