package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const DefaultMimeType = "application/octet-stream"

// FileMetaInfo describes one transfer. Size is the authoritative byte length
// that reassembly is checked against. Values are copied, never shared.
type FileMetaInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
	Checksum string `json:"checksum,omitempty"`
}

// NewFileID returns a random 32 character hex identifier.
func NewFileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewFileMetaInfo fills in defaults for any attribute left empty: a random id,
// a name derived from the id and the octet-stream MIME type.
func NewFileMetaInfo(info FileMetaInfo) FileMetaInfo {
	if info.ID == "" {
		info.ID = NewFileID()
	}
	if info.Name == "" {
		info.Name = "Unnamed-" + info.ID
	}
	if info.Type == "" {
		info.Type = DefaultMimeType
	}
	if info.Size < 0 {
		info.Size = 0
	}
	return info
}

// MetaInfoForBytes builds meta info for an in-memory buffer, including its checksum.
func MetaInfoForBytes(name, mimeType string, data []byte) FileMetaInfo {
	return NewFileMetaInfo(FileMetaInfo{
		Name:     name,
		Size:     int64(len(data)),
		Type:     mimeType,
		Checksum: ChecksumBytes(data),
	})
}

// ChecksumBytes returns the hex encoded sha256 of data.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Segment is one byte range of a file, identified by its zero-based index.
type Segment struct {
	Index   int
	Content []byte
}

// SegmentCount returns ceil(size / chunkSize). Non-positive inputs yield zero.
func SegmentCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// SegmentLength returns the expected content length of segment index for a
// file of the given size.
func SegmentLength(size int64, chunkSize int, index int) int {
	count := SegmentCount(size, chunkSize)
	if index < 0 || index >= count {
		return 0
	}
	if index < count-1 {
		return chunkSize
	}
	return int(size - int64(count-1)*int64(chunkSize))
}
