package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/peerSplice/internal/app_events"
	"github.com/rescp17/peerSplice/internal/app_events/sender"
	"github.com/rescp17/peerSplice/pkg/concurrency"
	"github.com/rescp17/peerSplice/pkg/fileInfo"
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

const DefaultAckTimeout = 2 * time.Minute

var (
	ErrRejected   = errors.New("receiver rejected file")
	ErrAckTimeout = errors.New("timed out waiting for receiver acknowledgement")
)

// Config configures a sender App.
type Config struct {
	Transfer *transfer.TransferConfig
	WebRTC   webrtc.Config
	// AckTimeout bounds the wait for file_complete after the last segment
	AckTimeout time.Duration
	Logger     *slog.Logger
}

// App is the main application logic controller for the sender. It owns one
// Connection; inbound signals from the relay are handed to HandleSignal.
type App struct {
	conn       *webrtc.Connection
	config     Config
	splitter   *transfer.Splitter
	serializer transfer.MessageSerializer
	guard      *concurrency.ConcurrencyGuard
	logger     *slog.Logger

	uiMessages chan tea.Msg            // App -> TUI
	appEvents  chan appevents.AppEvent // TUI -> App
	stopping   atomic.Bool

	stateMu sync.Mutex
	changed chan struct{} // closed and replaced on every state change
	lastErr error

	acksMu sync.Mutex
	acks   map[string]chan *transfer.ChunkMessage

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	transferWG sync.WaitGroup
}

// NewApp creates a sender whose signals go out through relay. A nil factory
// uses pion.
func NewApp(config Config, relay webrtc.Signaler, factory webrtc.SessionFactory) (*App, error) {
	if config.Transfer == nil {
		config.Transfer = transfer.DefaultTransferConfig()
	}
	if err := config.Transfer.Validate(); err != nil {
		return nil, err
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("role", "sender")
	config.WebRTC.Logger = logger

	splitter, err := config.Transfer.NewSplitter()
	if err != nil {
		return nil, err
	}
	serializer, err := config.Transfer.MessageSerializer()
	if err != nil {
		return nil, err
	}
	conn, err := webrtc.NewConnection(config.WebRTC, relay, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return &App{
		conn:       conn,
		config:     config,
		splitter:   splitter,
		serializer: serializer,
		guard:      concurrency.NewConcurrencyGuard(),
		logger:     logger,
		uiMessages: make(chan tea.Msg, 64),
		appEvents:  make(chan appevents.AppEvent),
		changed:    make(chan struct{}),
		acks:       make(map[string]chan *transfer.ChunkMessage),
	}, nil
}

// UIMessages returns the channel for the UI to listen on for updates.
func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the TUI to send events to the app.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// HandleSignal applies a signal relayed from the receiver.
func (a *App) HandleSignal(msg webrtc.SignalMessage) {
	if err := a.conn.ReceiveSignal(msg); err != nil {
		a.logger.Warn("failed to apply signal", "kind", msg.Kind(), "error", err)
	}
}

func (a *App) State() webrtc.State {
	return a.conn.State()
}

// Connect starts negotiation unless a round is already running.
func (a *App) Connect() error {
	switch a.conn.State() {
	case webrtc.StateClosed, webrtc.StateError:
		err := a.conn.Start()
		if errors.Is(err, webrtc.ErrInvalidStateTransition) {
			return nil
		}
		return err
	default:
		return nil
	}
}

// Run starts the application's main event loop. It must be running for
// SendFile to observe the connection. On return the connection is closed.
func (a *App) Run(ctx context.Context) error {
	events := a.conn.Events()
	for {
		select {
		case <-ctx.Done():
			a.stopping.Store(true)
			a.cancelTransfer()
			// Wait for any active transfers to complete gracefully
			a.transferWG.Wait()
			a.conn.Close()
			for ev := range events {
				a.handleConnectionEvent(ev)
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			a.handleConnectionEvent(ev)
		case event := <-a.appEvents:
			switch e := event.(type) {
			case sender.SendFileMsg:
				a.startSendFile(ctx, e.Path)
			case sender.CancelTransferMsg:
				a.cancelTransfer()
			case appevents.QuitEvent:
				a.conn.Stop()
			default:
				a.logger.Warn("Received unhandled app event", "event", event)
			}
		}
	}
}

func (a *App) handleConnectionEvent(ev webrtc.Event) {
	switch e := ev.(type) {
	case webrtc.StateChanged:
		a.logger.Info("connection state changed", "from", e.From.String(), "to", e.To.String(), "error", e.Err)
		a.stateMu.Lock()
		if e.To == webrtc.StateError {
			a.lastErr = e.Err
		}
		close(a.changed)
		a.changed = make(chan struct{})
		a.stateMu.Unlock()
		if e.From == webrtc.StateReady {
			a.failAcks(fmt.Errorf("%w: connection left ready", webrtc.ErrConnectionClosed))
		}
		a.notify(appevents.ConnectionStateMsg{From: e.From, To: e.To, Err: e.Err})

	case webrtc.DataReceived:
		msg, err := transfer.DecodeMessage(e.Data)
		if err != nil {
			a.logger.Warn("dropping undecodable message", "error", err)
			return
		}
		switch msg.Type {
		case transfer.FileComplete, transfer.TransferCancel:
			a.resolveAck(msg)
		default:
			a.logger.Warn("unexpected message from receiver", "type", msg.Type)
		}
	}
}

// waitReady blocks until the connection is Ready. It starts negotiation
// when the connection is idle.
func (a *App) waitReady(ctx context.Context) error {
	if err := a.Connect(); err != nil {
		return err
	}
	for {
		a.stateMu.Lock()
		changed := a.changed
		lastErr := a.lastErr
		a.stateMu.Unlock()

		switch a.conn.State() {
		case webrtc.StateReady:
			return nil
		case webrtc.StateError:
			if lastErr == nil {
				lastErr = webrtc.ErrNegotiationFailed
			}
			return lastErr
		case webrtc.StateClosed:
			return fmt.Errorf("%w: closed before ready", webrtc.ErrConnectionClosed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// SendFile describes, splits and streams the file at path, returning once
// the receiver has acknowledged it.
func (a *App) SendFile(ctx context.Context, path string) error {
	meta, err := fileInfo.Describe(path)
	if err != nil {
		return fmt.Errorf("failed to read file info: %w", err)
	}
	src, err := transfer.OpenFileSource(path)
	if err != nil {
		return err
	}
	defer src.Close()
	return a.Send(ctx, meta, src)
}

// SendBytes streams an in-memory buffer under name.
func (a *App) SendBytes(ctx context.Context, name string, data []byte) error {
	meta := transfer.MetaInfoForBytes(name, fileInfo.DetectBytes(data), data)
	return a.Send(ctx, meta, transfer.NewBytesSource(data))
}

// Send streams src announced as meta. Only one transfer runs at a time; a
// second caller gets concurrency.ErrBusy.
func (a *App) Send(ctx context.Context, meta transfer.FileMetaInfo, src transfer.ByteSource) error {
	if meta.Size != src.Size() {
		return fmt.Errorf("%w: meta size %d, source size %d", transfer.ErrInvalidMetaInfo, meta.Size, src.Size())
	}
	return a.guard.ExecuteWithContext(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		a.setCancel(cancel)
		defer a.setCancel(nil)

		if err := a.waitReady(ctx); err != nil {
			return fmt.Errorf("connection not established: %w", err)
		}
		return a.stream(ctx, meta, src)
	})
}

func (a *App) stream(ctx context.Context, meta transfer.FileMetaInfo, src transfer.ByteSource) error {
	log := a.logger.With("file", meta.Name, "id", meta.ID)
	chunkSize := a.splitter.ChunkSize()
	count := transfer.SegmentCount(meta.Size, chunkSize)

	ack := a.expectAck(meta.ID)
	defer a.dropAck(meta.ID)

	if err := a.sendMessage(transfer.NewFileMetaMessage(meta, count, chunkSize)); err != nil {
		return fmt.Errorf("failed to send file meta: %w", err)
	}

	tracker := transfer.NewProgressTracker(meta, count)
	onStart := func(count int) {
		tracker.Start()
		log.Info("sending file", "size", meta.Size, "segments", count)
		a.notify(sender.TransferStartedMsg{Meta: meta, SegmentCount: count})
	}
	sink := func(seg transfer.Segment) error {
		if err := a.sendMessage(transfer.NewSegmentMessage(meta.ID, seg)); err != nil {
			return fmt.Errorf("failed to send segment %d: %w", seg.Index, err)
		}
		a.notifyProgress(tracker.Add(len(seg.Content)))
		return nil
	}

	if err := a.splitter.Split(ctx, src, onStart, sink); err != nil {
		reason := err.Error()
		if errors.Is(err, context.Canceled) {
			reason = "cancelled by sender"
			a.notify(sender.TransferCancelledMsg{Meta: meta})
			tracker.Cancel()
		} else {
			tracker.Finish(err)
		}
		if sendErr := a.sendMessage(transfer.NewTransferCancelMessage(meta.ID, reason)); sendErr != nil {
			log.Debug("could not send cancel", "error", sendErr)
		}
		return err
	}

	a.notify(appevents.StatusMsg{Message: "waiting for receiver to verify " + meta.Name})
	timer := time.NewTimer(a.config.AckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		tracker.Cancel()
		return ctx.Err()
	case <-timer.C:
		tracker.Finish(ErrAckTimeout)
		return ErrAckTimeout
	case reply := <-ack:
		if reply == nil {
			err := fmt.Errorf("%w: before acknowledgement", webrtc.ErrConnectionClosed)
			tracker.Finish(err)
			return err
		}
		if reply.Type == transfer.TransferCancel || !reply.Success {
			err := fmt.Errorf("%w: %s", ErrRejected, reply.ErrorMessage)
			tracker.Finish(err)
			return err
		}
	}

	a.notifyProgress(tracker.Finish(nil))
	log.Info("file acknowledged by receiver")
	a.notify(sender.TransferCompleteMsg{Meta: meta})
	return nil
}

func (a *App) sendMessage(msg *transfer.ChunkMessage) error {
	frame, err := a.serializer.Marshal(msg)
	if err != nil {
		return err
	}
	return a.conn.Send(frame)
}

func (a *App) startSendFile(ctx context.Context, path string) {
	a.transferWG.Add(1)
	go func() {
		defer a.transferWG.Done()
		err := a.SendFile(ctx, path)
		if err != nil {
			if errors.Is(err, concurrency.ErrBusy) {
				a.sendAndLogError("A transfer is already in progress", err)
			} else {
				a.sendAndLogError("Transfer failed", err)
			}
		}
	}()
}

func (a *App) setCancel(cancel context.CancelFunc) {
	a.cancelMu.Lock()
	a.cancel = cancel
	a.cancelMu.Unlock()
}

func (a *App) cancelTransfer() {
	a.cancelMu.Lock()
	cancel := a.cancel
	a.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *App) expectAck(fileID string) <-chan *transfer.ChunkMessage {
	ch := make(chan *transfer.ChunkMessage, 1)
	a.acksMu.Lock()
	a.acks[fileID] = ch
	a.acksMu.Unlock()
	return ch
}

func (a *App) dropAck(fileID string) {
	a.acksMu.Lock()
	delete(a.acks, fileID)
	a.acksMu.Unlock()
}

func (a *App) resolveAck(msg *transfer.ChunkMessage) {
	a.acksMu.Lock()
	ch, ok := a.acks[msg.FileID]
	delete(a.acks, msg.FileID)
	a.acksMu.Unlock()
	if !ok {
		a.logger.Debug("acknowledgement for unknown file", "id", msg.FileID)
		return
	}
	ch <- msg
}

// failAcks wakes every waiter with a nil reply.
func (a *App) failAcks(err error) {
	a.acksMu.Lock()
	defer a.acksMu.Unlock()
	for id, ch := range a.acks {
		a.logger.Debug("abandoning acknowledgement", "id", id, "error", err)
		ch <- nil
		delete(a.acks, id)
	}
}

// Close tears down the connection. Run returns once its events are drained.
func (a *App) Close() error {
	a.cancelTransfer()
	return a.conn.Close()
}

// notify delivers msg to the UI, giving up if nobody reads for a while.
func (a *App) notify(msg tea.Msg) {
	if a.stopping.Load() {
		return
	}
	select {
	case a.uiMessages <- msg:
	case <-time.After(time.Second):
		a.logger.Debug("ui not reading, dropped message", "msg", fmt.Sprintf("%T", msg))
	}
}

// notifyProgress never blocks; a newer update supersedes a dropped one.
func (a *App) notifyProgress(status transfer.TransferStatus) {
	select {
	case a.uiMessages <- appevents.ProgressMsg{Status: status}:
	default:
	}
}

// sendAndLogError is a helper function to both log an error and send it to the UI.
func (a *App) sendAndLogError(baseMessage string, err error) {
	a.logger.Error(baseMessage, "error", err)
	a.notify(appevents.ErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}
