package sender

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/peerSplice/pkg/receiver"
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
	"github.com/rescp17/peerSplice/pkg/webrtc/webrtctest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(ctx context.Context, ch <-chan tea.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

func randomBytes(n int) []byte {
	rng := rand.New(rand.NewPCG(1, 2))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.IntN(256))
	}
	return b
}

func testTransferConfig(serializer string) *transfer.TransferConfig {
	cfg := transfer.DefaultTransferConfig()
	cfg.ChunkSize = 4096
	cfg.MaxConcurrentReads = 4
	cfg.Serializer = serializer
	return cfg
}

type peers struct {
	sender   *App
	receiver *receiver.App
}

// newPeers wires a sender and a receiver through an in-memory pipe. Signals
// are relayed by direct calls.
func newPeers(t *testing.T, serializer, outputDir string) *peers {
	t.Helper()
	pipe := webrtctest.NewPipe()
	p := &peers{}

	toReceiver := webrtc.SignalerFunc(func(msg webrtc.SignalMessage) error {
		p.receiver.HandleSignal(msg)
		return nil
	})
	toSender := webrtc.SignalerFunc(func(msg webrtc.SignalMessage) error {
		p.sender.HandleSignal(msg)
		return nil
	})

	var err error
	p.sender, err = NewApp(Config{
		Transfer:   testTransferConfig(serializer),
		AckTimeout: 5 * time.Second,
		Logger:     discardLogger(),
	}, toReceiver, pipe.Factory(0))
	require.NoError(t, err)
	p.receiver, err = receiver.NewApp(receiver.Config{
		OutputDir:  outputDir,
		Serializer: serializer,
		Logger:     discardLogger(),
	}, toSender, pipe.Factory(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go drain(ctx, p.sender.UIMessages())
	go drain(ctx, p.receiver.UIMessages())
	go func() { p.sender.Run(ctx); done <- struct{}{} }()
	go func() { p.receiver.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})
	return p
}

func TestApp_SendBytesInMemory(t *testing.T) {
	for _, serializer := range []string{"json", "binary"} {
		t.Run(serializer, func(t *testing.T) {
			p := newPeers(t, serializer, "")
			data := randomBytes(100_000)
			meta := transfer.MetaInfoForBytes("payload.bin", "", data)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			require.NoError(t, p.sender.Send(ctx, meta, transfer.NewBytesSource(data)))
			assert.Equal(t, webrtc.StateReady, p.sender.State())

			res, ok := p.receiver.Files().Result(meta.ID)
			require.True(t, ok)
			require.NoError(t, res.Err)
			assert.Equal(t, data, res.Data)
			assert.Equal(t, meta.Name, res.Meta.Name)
		})
	}
}

func TestApp_SendFileToDisk(t *testing.T) {
	srcDir, outDir := t.TempDir(), t.TempDir()
	data := randomBytes(3*4096 + 17)
	path := filepath.Join(srcDir, "report.txt")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	p := newPeers(t, "binary", outDir)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.sender.SendFile(ctx, path))

	got, err := os.ReadFile(filepath.Join(outDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestApp_SequentialTransfersReuseConnection(t *testing.T) {
	p := newPeers(t, "binary", "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i, size := range []int{0, 1, 4096, 10_000} {
		data := randomBytes(size)
		meta := transfer.MetaInfoForBytes("", "", data)
		require.NoError(t, p.sender.Send(ctx, meta, transfer.NewBytesSource(data)), "transfer %d", i)

		res, ok := p.receiver.Files().Result(meta.ID)
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Len(t, res.Data, size)
	}
}

func TestApp_ReceiverRejectsChecksumMismatch(t *testing.T) {
	p := newPeers(t, "json", "")
	data := randomBytes(5000)
	meta := transfer.MetaInfoForBytes("bad.bin", "", data)
	meta.Checksum = transfer.ChecksumBytes([]byte("something else"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := p.sender.Send(ctx, meta, transfer.NewBytesSource(data))
	assert.ErrorIs(t, err, ErrRejected)

	res, ok := p.receiver.Files().Result(meta.ID)
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, transfer.ErrChecksumMismatch)
}

func TestApp_SizeMismatch(t *testing.T) {
	app, err := NewApp(Config{Logger: discardLogger()}, webrtc.SignalerFunc(func(webrtc.SignalMessage) error { return nil }), webrtctest.NewPipe().Factory(0))
	require.NoError(t, err)
	defer app.Close()

	meta := transfer.MetaInfoForBytes("x", "", []byte("abc"))
	err = app.Send(context.Background(), meta, transfer.NewBytesSource([]byte("abcd")))
	assert.ErrorIs(t, err, transfer.ErrInvalidMetaInfo)
}

func TestApp_NegotiationTimeout(t *testing.T) {
	// the relay loses everything, so no answer ever comes back
	lost := webrtc.SignalerFunc(func(webrtc.SignalMessage) error { return nil })
	app, err := NewApp(Config{
		WebRTC: webrtc.Config{NegotiationTimeout: 50 * time.Millisecond},
		Logger: discardLogger(),
	}, lost, webrtctest.NewPipe().Factory(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drain(ctx, app.UIMessages())
	go app.Run(ctx)

	sendCtx, sendCancel := context.WithTimeout(ctx, 5*time.Second)
	defer sendCancel()
	err = app.SendBytes(sendCtx, "hello.txt", []byte("Hello!"))
	require.Error(t, err)
	assert.ErrorIs(t, err, webrtc.ErrNegotiationFailed)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}

func TestApp_CancelWhileWaiting(t *testing.T) {
	lost := webrtc.SignalerFunc(func(webrtc.SignalMessage) error { return nil })
	app, err := NewApp(Config{Logger: discardLogger()}, lost, webrtctest.NewPipe().Factory(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go drain(ctx, app.UIMessages())
	go app.Run(ctx)

	sendCtx, sendCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer sendCancel()
	err = app.SendBytes(sendCtx, "hello.txt", []byte("Hello!"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
