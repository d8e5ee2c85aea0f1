package ui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appevents "github.com/rescp17/peerSplice/internal/app_events"
	receiverEvent "github.com/rescp17/peerSplice/internal/app_events/receiver"
	senderEvent "github.com/rescp17/peerSplice/internal/app_events/sender"
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

type fakeApp struct {
	ui     chan tea.Msg
	events chan appevents.AppEvent
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		ui:     make(chan tea.Msg, 8),
		events: make(chan appevents.AppEvent, 8),
	}
}

func (f *fakeApp) UIMessages() <-chan tea.Msg {
	return f.ui
}

func (f *fakeApp) AppEvents() chan<- appevents.AppEvent {
	return f.events
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	require.True(t, ok)
	return nm, cmd
}

func TestSenderInitQueuesFile(t *testing.T) {
	app := newFakeApp()
	m := InitialModel(Options{Mode: Sender, SendPath: "/tmp/a.bin"}, app)

	cmd := m.initSender()
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())

	select {
	case ev := <-app.events:
		assert.Equal(t, senderEvent.SendFileMsg{Path: "/tmp/a.bin"}, ev)
	default:
		t.Fatal("send event was not emitted")
	}
}

func TestListenReturnsAppMessages(t *testing.T) {
	app := newFakeApp()
	m := InitialModel(Options{Mode: Receiver}, app)

	app.ui <- appevents.StatusMsg{Message: "hello"}
	assert.Equal(t, appevents.StatusMsg{Message: "hello"}, m.listen()())

	close(app.ui)
	assert.Equal(t, appClosedMsg{}, m.listen()())
}

func TestEmitTimesOut(t *testing.T) {
	app := &fakeApp{ui: make(chan tea.Msg), events: make(chan appevents.AppEvent)}
	m := InitialModel(Options{Mode: Receiver}, app)

	start := time.Now()
	msg := m.emit(appevents.QuitEvent{})()
	errMsg, ok := msg.(appevents.ErrorMsg)
	require.True(t, ok)
	assert.True(t, errors.Is(errMsg.Err, errAppNotResponding))
	assert.GreaterOrEqual(t, time.Since(start), emitTimeout)
}

func TestConnectionAndProgress(t *testing.T) {
	m := InitialModel(Options{Mode: Receiver, Room: "r1", PeerID: "p1"}, newFakeApp())

	m, cmd := update(t, m, appevents.ConnectionStateMsg{From: webrtc.StateClosed, To: webrtc.StateEstablishing})
	assert.NotNil(t, cmd)
	assert.Equal(t, webrtc.StateEstablishing, m.state)

	status := transfer.TransferStatus{FileName: "a.txt", Bytes: 50, TotalBytes: 100, State: transfer.TransferStateActive}
	m, _ = update(t, m, appevents.ProgressMsg{Status: status})
	require.NotNil(t, m.current)
	assert.Equal(t, int64(50), m.current.Bytes)

	view := m.View()
	assert.Contains(t, view, "room r1")
	assert.Contains(t, view, "establishing")
	assert.Contains(t, view, "a.txt")

	m, _ = update(t, m, appevents.ConnectionStateMsg{From: webrtc.StateEstablishing, To: webrtc.StateError, Err: errors.New("boom")})
	assert.Contains(t, m.View(), "boom")

	m, _ = update(t, m, appevents.ConnectionStateMsg{From: webrtc.StateError, To: webrtc.StateReady})
	assert.NoError(t, m.err)
}

func TestSenderLifecycle(t *testing.T) {
	meta := transfer.FileMetaInfo{ID: "f1", Name: "a.bin", Size: 2048}
	m := InitialModel(Options{Mode: Sender, SendPath: "a.bin"}, newFakeApp())

	m, _ = update(t, m, senderEvent.TransferStartedMsg{Meta: meta, SegmentCount: 2})
	assert.True(t, m.sender.sending)
	assert.True(t, m.keys.Cancel.Enabled())

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.NotNil(t, cmd)
	assert.Equal(t, "cancelling...", m.status)

	m, _ = update(t, m, senderEvent.TransferCompleteMsg{Meta: meta})
	assert.True(t, m.sender.done)
	assert.False(t, m.keys.Cancel.Enabled())
	require.Len(t, m.log, 1)
	assert.Contains(t, m.log[0], "a.bin")
	assert.NoError(t, m.Err())
}

func TestSenderExitWhenDone(t *testing.T) {
	meta := transfer.FileMetaInfo{ID: "f1", Name: "a.bin", Size: 1}
	m := InitialModel(Options{Mode: Sender, SendPath: "a.bin", ExitWhenDone: true}, newFakeApp())

	done, cmd := update(t, m, senderEvent.TransferCompleteMsg{Meta: meta})
	assert.True(t, done.quitting)
	assert.NotNil(t, cmd)
	assert.NoError(t, done.Err())

	failed, cmd := update(t, m, appevents.ErrorMsg{Err: errors.New("rejected")})
	assert.True(t, failed.quitting)
	assert.NotNil(t, cmd)
	assert.EqualError(t, failed.Err(), "rejected")
}

func TestReceiverLog(t *testing.T) {
	meta := transfer.FileMetaInfo{ID: "f1", Name: "b.txt", Size: 10}
	m := InitialModel(Options{Mode: Receiver}, newFakeApp())

	m, _ = update(t, m, receiverEvent.FileAnnouncedMsg{Meta: meta, SegmentCount: 1})
	assert.Contains(t, m.status, "b.txt")

	m, _ = update(t, m, receiverEvent.FileReceivedMsg{Meta: meta, Path: "/out/b.txt"})
	m, _ = update(t, m, receiverEvent.FileFailedMsg{Meta: meta, Err: transfer.ErrChecksumMismatch})
	assert.Equal(t, 1, m.receiver.received)
	assert.Equal(t, 1, m.receiver.failed)
	require.Len(t, m.log, 2)
	assert.Contains(t, m.log[0], "/out/b.txt")
	assert.Contains(t, m.View(), "1 received, 1 failed")
}

func TestLogIsBounded(t *testing.T) {
	m := InitialModel(Options{Mode: Receiver}, newFakeApp())
	for i := 0; i < maxLogLines+5; i++ {
		m.appendLog("line")
	}
	assert.Len(t, m.log, maxLogLines)
}

func TestQuitKey(t *testing.T) {
	m := InitialModel(Options{Mode: Receiver}, newFakeApp())
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
}
