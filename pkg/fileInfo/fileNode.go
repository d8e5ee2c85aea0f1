package fileInfo

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rescp17/peerSplice/pkg/transfer"
)

// FileNode describes a regular file offered for transfer.
type FileNode struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Path     string `json:"-"`
}

func CreateNode(path string) (FileNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileNode{}, err
	}
	if info.IsDir() {
		return FileNode{}, fmt.Errorf("%s is a directory, only single files can be sent", path)
	}
	node := FileNode{
		Name: info.Name(),
		Size: info.Size(),
		Path: path,
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		node.MimeType = transfer.DefaultMimeType
	} else {
		node.MimeType = mime.String()
	}

	if _, err := node.CalcChecksum(); err != nil {
		return FileNode{}, err
	}
	return node, nil
}

// MetaInfo returns the meta info announced for this file, with a fresh id.
func (n FileNode) MetaInfo() transfer.FileMetaInfo {
	return transfer.NewFileMetaInfo(transfer.FileMetaInfo{
		Name:     n.Name,
		Size:     n.Size,
		Type:     n.MimeType,
		Checksum: n.Checksum,
	})
}

// DetectBytes returns the MIME type of an in-memory buffer.
func DetectBytes(data []byte) string {
	return mimetype.Detect(data).String()
}

// Describe reads the file at path and returns the meta info to announce for it.
func Describe(path string) (transfer.FileMetaInfo, error) {
	node, err := CreateNode(path)
	if err != nil {
		return transfer.FileMetaInfo{}, err
	}
	return node.MetaInfo(), nil
}
