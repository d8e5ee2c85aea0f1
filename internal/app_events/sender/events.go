package sender

import (
	appevents "github.com/rescp17/peerSplice/internal/app_events"
	"github.com/rescp17/peerSplice/pkg/transfer"
)

// --- App Events (from TUI to App) ---

// SendFileMsg asks the app to send the file at Path.
type SendFileMsg struct {
	appevents.Event
	Path string
}

// CancelTransferMsg cancels the transfer in progress, if any.
type CancelTransferMsg struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = SendFileMsg{}
	_ appevents.AppEvent = CancelTransferMsg{}
)

// --- UI Messages (from App to TUI) ---

type TransferStartedMsg struct {
	appevents.UIMessage
	Meta         transfer.FileMetaInfo
	SegmentCount int
}

// TransferCompleteMsg is sent once the receiver has acknowledged the file.
type TransferCompleteMsg struct {
	appevents.UIMessage
	Meta transfer.FileMetaInfo
}

type TransferCancelledMsg struct {
	appevents.UIMessage
	Meta transfer.FileMetaInfo
}
