package fileInfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNode(t *testing.T) {
	content := []byte("Hello, World! This is a test file.")
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, content, 0644))

	node, err := CreateNode(path)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", node.Name)
	assert.Equal(t, int64(len(content)), node.Size)
	assert.Contains(t, node.MimeType, "text/plain")
	assert.Equal(t, transfer.ChecksumBytes(content), node.Checksum)

	meta := node.MetaInfo()
	assert.Len(t, meta.ID, 32)
	assert.Equal(t, node.Name, meta.Name)
	assert.Equal(t, node.Size, meta.Size)
	assert.Equal(t, node.Checksum, meta.Checksum)

	ok, err := node.VerifySHA256(transfer.ChecksumBytes(content))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyFile(path, transfer.ChecksumBytes([]byte("other")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateNode_Errors(t *testing.T) {
	_, err := CreateNode(t.TempDir())
	assert.Error(t, err)

	_, err = CreateNode(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDetectBytes(t *testing.T) {
	assert.Equal(t, "application/pdf", DetectBytes([]byte("%PDF-1.7\n")))
}

func TestDescribe(t *testing.T) {
	content := []byte("segment me")
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, content, 0644))

	meta, err := Describe(path)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", meta.Name)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Equal(t, transfer.ChecksumBytes(content), meta.Checksum)
	assert.Contains(t, meta.Type, "text/plain")

	_, err = Describe(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
