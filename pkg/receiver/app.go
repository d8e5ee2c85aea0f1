package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/peerSplice/internal/app_events"
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

// Config configures a receiver App.
type Config struct {
	// OutputDir receives completed files; empty keeps them in memory
	OutputDir string
	// Serializer encodes acknowledgements; see transfer.SerializerByName
	Serializer string
	WebRTC     webrtc.Config
	Logger     *slog.Logger
}

// App is the main application logic controller for the receiver. It owns
// one Connection, answers the sender's offer and feeds inbound data to a
// FileReceiver.
type App struct {
	conn       *webrtc.Connection
	files      *FileReceiver
	serializer transfer.MessageSerializer
	logger     *slog.Logger

	uiMessages chan tea.Msg
	appEvents  chan appevents.AppEvent
	stopping   atomic.Bool
}

// NewApp creates a receiver whose signals go out through relay. A nil
// factory uses pion.
func NewApp(config Config, relay webrtc.Signaler, factory webrtc.SessionFactory) (*App, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("role", "receiver")
	config.WebRTC.Logger = logger

	serializer, err := transfer.SerializerByName(config.Serializer)
	if err != nil {
		return nil, err
	}
	conn, err := webrtc.NewConnection(config.WebRTC, relay, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	uiMessages := make(chan tea.Msg, 64)
	return &App{
		conn:       conn,
		files:      NewFileReceiver(config.OutputDir, uiMessages, logger),
		serializer: serializer,
		logger:     logger,
		uiMessages: uiMessages,
		appEvents:  make(chan appevents.AppEvent),
	}, nil
}

func (a *App) UIMessages() <-chan tea.Msg {
	return a.uiMessages
}

func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

// Files exposes the results of received files.
func (a *App) Files() *FileReceiver {
	return a.files
}

func (a *App) State() webrtc.State {
	return a.conn.State()
}

// HandleSignal applies a signal relayed from the sender.
func (a *App) HandleSignal(msg webrtc.SignalMessage) {
	if err := a.conn.ReceiveSignal(msg); err != nil {
		a.logger.Warn("failed to apply signal", "kind", msg.Kind(), "error", err)
	}
}

// Run processes connection events until ctx is done or the connection is
// closed. On return the connection is closed.
func (a *App) Run(ctx context.Context) error {
	defer a.files.Close()
	events := a.conn.Events()
	for {
		select {
		case <-ctx.Done():
			a.stopping.Store(true)
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
			switch event.(type) {
			case appevents.QuitEvent:
				a.conn.Close()
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
		if e.From == webrtc.StateReady {
			a.files.AbortAll(fmt.Errorf("%w: connection left ready", webrtc.ErrConnectionClosed))
		}
		a.notify(appevents.ConnectionStateMsg{From: e.From, To: e.To, Err: e.Err})

	case webrtc.DataReceived:
		reply, err := a.files.HandleFrame(e.Data)
		if err != nil {
			a.logger.Warn("rejected message", "error", err)
		}
		if reply == nil {
			return
		}
		frame, err := a.serializer.Marshal(reply)
		if err != nil {
			a.logger.Error("failed to encode acknowledgement", "error", err)
			return
		}
		if err := a.conn.Send(frame); err != nil {
			a.logger.Warn("failed to send acknowledgement", "id", reply.FileID, "error", err)
		}
	}
}

// Close tears down the connection. Run returns once its events are drained.
func (a *App) Close() error {
	return a.conn.Close()
}

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
