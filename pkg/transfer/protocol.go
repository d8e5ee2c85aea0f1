package transfer

import "fmt"

type MessageType string

const (
	FileMeta       MessageType = "file_meta"
	SegmentData    MessageType = "segment"
	FileComplete   MessageType = "file_complete"
	TransferCancel MessageType = "transfer_cancel"
)

func (t MessageType) Valid() bool {
	switch t {
	case FileMeta, SegmentData, FileComplete, TransferCancel:
		return true
	}
	return false
}

// ChunkMessage is the unit exchanged over the data channel. Which fields are
// meaningful depends on Type.
type ChunkMessage struct {
	Type   MessageType
	FileID string

	// file_meta
	Meta         *FileMetaInfo
	SegmentCount int
	ChunkSize    int

	// segment
	Index int
	Data  []byte

	// file_complete, transfer_cancel
	Success      bool
	ErrorMessage string
}

type MessageSerializer interface {
	Marshal(message *ChunkMessage) ([]byte, error)
	Unmarshal(data []byte) (*ChunkMessage, error)
	Name() string
	IsBinary() bool
}

func NewFileMetaMessage(meta FileMetaInfo, segmentCount, chunkSize int) *ChunkMessage {
	return &ChunkMessage{
		Type:         FileMeta,
		FileID:       meta.ID,
		Meta:         &meta,
		SegmentCount: segmentCount,
		ChunkSize:    chunkSize,
	}
}

func NewSegmentMessage(fileID string, seg Segment) *ChunkMessage {
	return &ChunkMessage{
		Type:   SegmentData,
		FileID: fileID,
		Index:  seg.Index,
		Data:   seg.Content,
	}
}

// NewFileCompleteMessage acknowledges a file. A nil err reports success.
func NewFileCompleteMessage(fileID string, err error) *ChunkMessage {
	msg := &ChunkMessage{Type: FileComplete, FileID: fileID, Success: err == nil}
	if err != nil {
		msg.ErrorMessage = err.Error()
	}
	return msg
}

func NewTransferCancelMessage(fileID, reason string) *ChunkMessage {
	return &ChunkMessage{Type: TransferCancel, FileID: fileID, ErrorMessage: reason}
}

func (m *ChunkMessage) Segment() Segment {
	return Segment{Index: m.Index, Content: m.Data}
}

// SerializerByName returns the serializer registered under name.
func SerializerByName(name string) (MessageSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "binary", "":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("%w: unknown serializer %q", ErrInvalidConfiguration, name)
	}
}

// DecodeMessage picks the serializer from the frame's first byte.
func DecodeMessage(data []byte) (*ChunkMessage, error) {
	if len(data) > 0 && data[0] == binaryMarker {
		return NewBinarySerializer().Unmarshal(data)
	}
	return NewJSONSerializer().Unmarshal(data)
}
