package webrtc

import (
	"testing"
	"time"

	"github.com/pion/ice/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConnection_PionLoopback negotiates two real peer connections in one
// process, relaying signals directly between them.
func TestConnection_PionLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping peer connection test in short mode")
	}

	config := Config{
		NegotiationTimeout: ciTimeout(20 * time.Second),
		MulticastDNS:       ice.MulticastDNSModeDisabled,
		Logger:             discardLogger(),
	}

	var offerer, answerer *Connection
	relayTo := func(target **Connection) Signaler {
		return SignalerFunc(func(msg SignalMessage) error {
			go func() {
				if err := (*target).ReceiveSignal(msg); err != nil {
					t.Logf("relay: %s: %v", msg.Kind(), err)
				}
			}()
			return nil
		})
	}

	var err error
	offerer, err = NewConnection(config, relayTo(&answerer), nil)
	require.NoError(t, err)
	answerer, err = NewConnection(config, relayTo(&offerer), nil)
	require.NoError(t, err)
	defer offerer.Close()
	defer answerer.Close()

	received := make(chan []byte, 1)
	offererReady := make(chan struct{})
	go func() {
		for ev := range answerer.Events() {
			if data, ok := ev.(DataReceived); ok {
				received <- data.Data
			}
		}
	}()
	go func() {
		ready := false
		for ev := range offerer.Events() {
			if sc, ok := ev.(StateChanged); ok && sc.To == StateReady && !ready {
				ready = true
				close(offererReady)
			}
		}
	}()

	require.NoError(t, offerer.Start())

	select {
	case <-offererReady:
	case <-time.After(ciTimeout(20 * time.Second)):
		t.Fatalf("timed out waiting for ready, offerer is %s", offerer.State())
	}

	require.Eventually(t, func() bool { return answerer.State() == StateReady }, ciTimeout(10*time.Second), 10*time.Millisecond)
	require.NoError(t, offerer.Send([]byte("Hello!")))

	select {
	case data := <-received:
		assert.Equal(t, "Hello!", string(data))
	case <-time.After(ciTimeout(5 * time.Second)):
		t.Fatal("timed out waiting for message")
	}
}
