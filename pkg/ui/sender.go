package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/peerSplice/internal/app_events"
	senderEvent "github.com/rescp17/peerSplice/internal/app_events/sender"
	"github.com/rescp17/peerSplice/internal/style"
	"github.com/rescp17/peerSplice/internal/util"
)

type senderModel struct {
	path      string
	requested bool
	sending   bool
	done      bool
	sent      int
}

func initSenderModel(path string) senderModel {
	return senderModel{path: path, requested: path != ""}
}

func (m model) initSender() tea.Cmd {
	if !m.sender.requested {
		return nil
	}
	return m.emit(senderEvent.SendFileMsg{Path: m.sender.path})
}

func (m model) updateSender(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Cancel) {
			m.status = "cancelling..."
			return m, m.emit(senderEvent.CancelTransferMsg{})
		}
	case senderEvent.TransferStartedMsg:
		m.sender.sending = true
		m.keys.Cancel.SetEnabled(true)
		m.status = fmt.Sprintf("sending %s in %d segments", msg.Meta.Name, msg.SegmentCount)
		return m, m.listen()
	case senderEvent.TransferCompleteMsg:
		m.sender.sending = false
		m.sender.done = true
		m.sender.sent++
		m.keys.Cancel.SetEnabled(false)
		m.status = ""
		m.appendLog(style.SuccessStyle.Render(fmt.Sprintf("✔ sent %s (%s)", msg.Meta.Name, util.FormatSize(msg.Meta.Size))))
		if m.opts.ExitWhenDone {
			return m.quit()
		}
		return m, m.listen()
	case senderEvent.TransferCancelledMsg:
		m.sender.sending = false
		m.keys.Cancel.SetEnabled(false)
		m.status = ""
		m.appendLog(style.WarningStyle.Render("✘ cancelled " + msg.Meta.Name))
		return m, m.listen()
	case appevents.ErrorMsg:
		m.err = msg.Err
		m.sender.sending = false
		m.keys.Cancel.SetEnabled(false)
		if m.opts.ExitWhenDone && m.sender.requested {
			return m.quit()
		}
		return m, m.listen()
	}
	return m, nil
}

func (m model) senderView() string {
	switch {
	case m.sender.sending:
		return ""
	case m.sender.done && m.opts.ExitWhenDone:
		return "\nTransfer complete!\n"
	case m.sender.requested && !m.sender.done && m.err == nil:
		return fmt.Sprintf("%s Waiting for the peer to send %s...\n", m.spinner.View(), style.HighlightFontStyle.Render(m.sender.path))
	default:
		return ""
	}
}
