package receiver

import (
	appevents "github.com/rescp17/peerSplice/internal/app_events"
	"github.com/rescp17/peerSplice/pkg/transfer"
)

// --- App to UI Messages ---

// FileAnnouncedMsg is sent when the sender's meta info for a file arrives.
type FileAnnouncedMsg struct {
	appevents.UIMessage
	Meta         transfer.FileMetaInfo
	SegmentCount int
}

// FileReceivedMsg is sent when a file has been reassembled and verified.
// Path is empty when the receiver keeps files in memory.
type FileReceivedMsg struct {
	appevents.UIMessage
	Meta transfer.FileMetaInfo
	Path string
}

// FileFailedMsg is sent when a file could not be reassembled or was cancelled.
type FileFailedMsg struct {
	appevents.UIMessage
	Meta transfer.FileMetaInfo
	Err  error
}
