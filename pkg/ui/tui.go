package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/peerSplice/internal/app_events"
	"github.com/rescp17/peerSplice/internal/style"
	"github.com/rescp17/peerSplice/internal/util"
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

type Mode int

const (
	None Mode = iota
	Sender
	Receiver
)

func (m Mode) String() string {
	switch m {
	case Sender:
		return "sender"
	case Receiver:
		return "receiver"
	default:
		return "none"
	}
}

const (
	maxLogLines     = 8
	maxProgressBar  = 60
	emitTimeout     = time.Second
	defaultBarWidth = 40
)

var errAppNotResponding = errors.New("app is not accepting events")

// AppController is the side of a sender or receiver app the TUI talks to.
type AppController interface {
	UIMessages() <-chan tea.Msg
	AppEvents() chan<- appevents.AppEvent
}

type Options struct {
	Mode   Mode
	Room   string
	PeerID string
	// SendPath is handed to the sender app as soon as the TUI starts
	SendPath string
	// ExitWhenDone quits once the sender's file is acknowledged or has failed
	ExitWhenDone bool
}

// appClosedMsg is returned by listen once the app closed its UI channel.
type appClosedMsg struct{}

type keyMap struct {
	Cancel key.Binding
	Quit   key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Cancel, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newKeyMap() keyMap {
	return keyMap{
		Cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel transfer"),
			key.WithDisabled(),
		),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type model struct {
	opts     Options
	app      AppController
	keys     keyMap
	help     help.Model
	spinner  spinner.Model
	progress progress.Model

	state    webrtc.State
	status   string
	current  *transfer.TransferStatus
	log      []string
	err      error
	quitting bool

	sender   senderModel
	receiver receiverModel
}

// InitialModel builds the TUI model for an app running in opts.Mode.
func InitialModel(opts Options, app AppController) model {
	m := model{
		opts:     opts,
		app:      app,
		keys:     newKeyMap(),
		help:     help.New(),
		spinner:  style.NewSpinner(),
		progress: style.NewProgress(defaultBarWidth),
		state:    webrtc.StateClosed,
	}
	switch opts.Mode {
	case Sender:
		m.sender = initSenderModel(opts.SendPath)
	case Receiver:
		m.receiver = initReceiverModel()
	}
	return m
}

// Run drives the TUI until the user quits or ctx is done.
// It returns the error that ended an ExitWhenDone session, if any.
func Run(ctx context.Context, opts Options, app AppController) error {
	p := tea.NewProgram(InitialModel(opts, app), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if fm, ok := final.(model); ok {
		return fm.Err()
	}
	return nil
}

// Err reports why an ExitWhenDone session ended without success.
func (m model) Err() error {
	if m.opts.Mode == Sender && m.opts.ExitWhenDone && !m.sender.done {
		if m.err != nil {
			return m.err
		}
		if m.sender.requested {
			return errors.New("transfer did not complete")
		}
	}
	return nil
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.listen()}
	switch m.opts.Mode {
	case Sender:
		cmds = append(cmds, m.initSender())
	case Receiver:
		cmds = append(cmds, m.initReceiver())
	}
	return tea.Batch(cmds...)
}

// listen waits for the next message from the app.
func (m model) listen() tea.Cmd {
	ch := m.app.UIMessages()
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return appClosedMsg{}
		}
		return msg
	}
}

// emit hands ev to the app without blocking the update loop.
func (m model) emit(ev appevents.AppEvent) tea.Cmd {
	ch := m.app.AppEvents()
	return func() tea.Msg {
		timer := time.NewTimer(emitTimeout)
		defer timer.Stop()
		select {
		case ch <- ev:
			return nil
		case <-timer.C:
			return appevents.ErrorMsg{Err: fmt.Errorf("%w: %T", errAppNotResponding, ev)}
		}
	}
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	return m, tea.Sequence(m.emit(appevents.QuitEvent{}), tea.Quit)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m.quit()
		}
	case tea.WindowSizeMsg:
		m.progress.Width = min(max(msg.Width-4, 10), maxProgressBar)
		m.help.Width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case appClosedMsg:
		return m, nil
	case appevents.ConnectionStateMsg:
		m.state = msg.To
		if msg.Err != nil {
			m.err = msg.Err
		} else if msg.To == webrtc.StateReady {
			m.err = nil
		}
		return m, m.listen()
	case appevents.ProgressMsg:
		status := msg.Status
		m.current = &status
		return m, m.listen()
	case appevents.StatusMsg:
		m.status = msg.Message
		return m, m.listen()
	}

	switch m.opts.Mode {
	case Sender:
		return m.updateSender(msg)
	case Receiver:
		return m.updateReceiver(msg)
	}
	if msg, ok := msg.(appevents.ErrorMsg); ok {
		m.err = msg.Err
		return m, m.listen()
	}
	return m, nil
}

func (m *model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(style.TitleStyle.Render("peersplice " + m.opts.Mode.String()))
	if m.opts.Room != "" {
		b.WriteString(style.MutedStyle.Render(fmt.Sprintf("  room %s · peer %s", m.opts.Room, m.opts.PeerID)))
	}
	b.WriteString("\n\n")

	b.WriteString(m.connectionView())
	b.WriteString("\n")

	switch m.opts.Mode {
	case Sender:
		b.WriteString(m.senderView())
	case Receiver:
		b.WriteString(m.receiverView())
	}

	if m.status != "" {
		b.WriteString(style.MutedStyle.Render(m.status) + "\n")
	}
	if m.current != nil {
		b.WriteString(style.BaseStyle.Render(m.progressView(*m.current)) + "\n")
	}
	for _, line := range m.log {
		b.WriteString(line + "\n")
	}
	if m.err != nil {
		b.WriteString(style.ErrorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	if !m.quitting {
		b.WriteString("\n" + style.HelpStyle.Render(m.help.View(m.keys)))
	}
	return b.String()
}

func (m model) connectionView() string {
	label := m.state.String()
	line := "connection: " + style.StateStyle(label).Render(label)
	if m.state == webrtc.StateEstablishing || m.state == webrtc.StateClosing {
		line = m.spinner.View() + " " + line
	}
	return line + "\n"
}

func (m model) progressView(status transfer.TransferStatus) string {
	name := style.HighlightFontStyle.Render(util.PadRight(status.FileName, 32))
	bar := m.progress.ViewAs(status.GetProgressPercentage() / 100)
	detail := fmt.Sprintf("%s / %s  %s  eta %s  %s",
		util.FormatSize(status.Bytes),
		util.FormatSize(status.TotalBytes),
		util.PadLeft(util.FormatRate(status.TransferRate), 12),
		util.FormatETA(status.ETA),
		status.State,
	)
	return name + "\n" + bar + "\n" + detail
}
