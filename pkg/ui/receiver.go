package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	appevents "github.com/rescp17/peerSplice/internal/app_events"
	receiverEvent "github.com/rescp17/peerSplice/internal/app_events/receiver"
	"github.com/rescp17/peerSplice/internal/style"
	"github.com/rescp17/peerSplice/internal/util"
)

type receiverModel struct {
	receiving string
	received  int
	failed    int
}

func initReceiverModel() receiverModel {
	return receiverModel{}
}

func (m model) initReceiver() tea.Cmd {
	return nil
}

func (m model) updateReceiver(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case receiverEvent.FileAnnouncedMsg:
		m.receiver.receiving = msg.Meta.Name
		m.status = fmt.Sprintf("receiving %s (%s, %d segments)", msg.Meta.Name, util.FormatSize(msg.Meta.Size), msg.SegmentCount)
		return m, m.listen()
	case receiverEvent.FileReceivedMsg:
		m.receiver.receiving = ""
		m.receiver.received++
		m.status = ""
		where := "memory"
		if msg.Path != "" {
			where = msg.Path
		}
		m.appendLog(style.SuccessStyle.Render(fmt.Sprintf("✔ %s (%s) -> %s", msg.Meta.Name, util.FormatSize(msg.Meta.Size), where)))
		return m, m.listen()
	case receiverEvent.FileFailedMsg:
		m.receiver.receiving = ""
		m.receiver.failed++
		m.status = ""
		m.appendLog(style.ErrorStyle.Render(fmt.Sprintf("✘ %s: %v", msg.Meta.Name, msg.Err)))
		return m, m.listen()
	case appevents.ErrorMsg:
		m.err = msg.Err
		return m, m.listen()
	}
	return m, nil
}

func (m model) receiverView() string {
	if m.receiver.receiving != "" {
		return ""
	}
	s := fmt.Sprintf("%s Waiting for files...", m.spinner.View())
	if m.receiver.received > 0 || m.receiver.failed > 0 {
		s += style.MutedStyle.Render(fmt.Sprintf("  %d received, %d failed", m.receiver.received, m.receiver.failed))
	}
	return s + "\n"
}
