package transfer

import (
	"encoding/json"
	"fmt"
)

type JSONSerializer struct{}

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

type JSONChunkMessage struct {
	Type         MessageType   `json:"type"`
	FileID       string        `json:"file_id"`
	Meta         *FileMetaInfo `json:"meta,omitempty"`
	SegmentCount int           `json:"segment_count,omitempty"`
	ChunkSize    int           `json:"chunk_size,omitempty"`
	Index        int           `json:"index,omitempty"`
	Data         []byte        `json:"data,omitempty"`
	Success      bool          `json:"success,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

func (j *JSONSerializer) Marshal(msg *ChunkMessage) ([]byte, error) {
	return json.Marshal(JSONChunkMessage{
		Type:         msg.Type,
		FileID:       msg.FileID,
		Meta:         msg.Meta,
		SegmentCount: msg.SegmentCount,
		ChunkSize:    msg.ChunkSize,
		Index:        msg.Index,
		Data:         msg.Data,
		Success:      msg.Success,
		ErrorMessage: msg.ErrorMessage,
	})
}

func (j *JSONSerializer) Unmarshal(data []byte) (*ChunkMessage, error) {
	var jsonMsg JSONChunkMessage
	if err := json.Unmarshal(data, &jsonMsg); err != nil {
		return nil, err
	}
	if !jsonMsg.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, jsonMsg.Type)
	}
	return &ChunkMessage{
		Type:         jsonMsg.Type,
		FileID:       jsonMsg.FileID,
		Meta:         jsonMsg.Meta,
		SegmentCount: jsonMsg.SegmentCount,
		ChunkSize:    jsonMsg.ChunkSize,
		Index:        jsonMsg.Index,
		Data:         jsonMsg.Data,
		Success:      jsonMsg.Success,
		ErrorMessage: jsonMsg.ErrorMessage,
	}, nil
}

func (j *JSONSerializer) Name() string {
	return "json"
}

func (j *JSONSerializer) IsBinary() bool {
	return false
}
