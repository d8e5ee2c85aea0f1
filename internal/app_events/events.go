package appevents

import (
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

// AppEvent is a marker interface for events sent from the TUI to the App's logic controller.
// It uses an unexported method to ensure that only types from this package (by embedding Event)
// can satisfy the interface, providing compile-time safety.
type AppEvent interface {
	isAppEvent()
}

// Event is a struct that can be embedded in other event types to satisfy the AppEvent interface.
type Event struct{}

// isAppEvent is the marker method that makes a struct an AppEvent.
func (Event) isAppEvent() {}

// AppUIMessage is a marker interface for messages sent from the App's logic controller to the TUI.
type AppUIMessage interface {
	isUIMessage()
}

// UIMessage is a base struct that can be embedded in other types to implement the AppUIMessage interface.
type UIMessage struct{}

func (UIMessage) isUIMessage() {}

// --- App Events (from TUI to App) ---

// QuitEvent asks the app to close its connection and stop.
type QuitEvent struct {
	Event
}

// --- UI Messages (from App to TUI) ---

// ErrorMsg reports a failure the user should see.
type ErrorMsg struct {
	UIMessage
	Err error
}

// ConnectionStateMsg mirrors a connection state change.
type ConnectionStateMsg struct {
	UIMessage
	From webrtc.State
	To   webrtc.State
	Err  error
}

// ProgressMsg carries the latest progress of one file.
type ProgressMsg struct {
	UIMessage
	Status transfer.TransferStatus
}

// StatusMsg is a free form status line.
type StatusMsg struct {
	UIMessage
	Message string
}

var (
	_ AppEvent     = QuitEvent{}
	_ AppUIMessage = ErrorMsg{}
	_ AppUIMessage = ConnectionStateMsg{}
	_ AppUIMessage = ProgressMsg{}
	_ AppUIMessage = StatusMsg{}
)
