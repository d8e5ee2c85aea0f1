package receiver

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/peerSplice/internal/app_events/receiver"
	"github.com/rescp17/peerSplice/pkg/transfer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

// frames encodes the meta message followed by every segment of data.
func frames(t *testing.T, serializer transfer.MessageSerializer, meta transfer.FileMetaInfo, data []byte, chunkSize int) ([]byte, [][]byte) {
	t.Helper()
	segments, err := transfer.SplitBytes(data, chunkSize)
	require.NoError(t, err)

	metaFrame, err := serializer.Marshal(transfer.NewFileMetaMessage(meta, len(segments), chunkSize))
	require.NoError(t, err)

	segFrames := make([][]byte, len(segments))
	for i, seg := range segments {
		segFrames[i], err = serializer.Marshal(transfer.NewSegmentMessage(meta.ID, seg))
		require.NoError(t, err)
	}
	return metaFrame, segFrames
}

func TestFileReceiver_InMemoryOutOfOrder(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	data := testData(10_000)
	meta := transfer.MetaInfoForBytes("notes.txt", "text/plain", data)
	metaFrame, segFrames := frames(t, transfer.NewBinarySerializer(), meta, data, 1000)

	reply, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)
	assert.Nil(t, reply)

	rng := rand.New(rand.NewPCG(42, 42))
	rng.Shuffle(len(segFrames), func(i, j int) { segFrames[i], segFrames[j] = segFrames[j], segFrames[i] })

	for i, f := range segFrames {
		reply, err = fr.HandleFrame(f)
		require.NoError(t, err)
		if i < len(segFrames)-1 {
			assert.Nil(t, reply)
		}
	}
	require.NotNil(t, reply)
	assert.Equal(t, transfer.FileComplete, reply.Type)
	assert.True(t, reply.Success)
	assert.Equal(t, meta.ID, reply.FileID)

	res, ok := fr.Result(meta.ID)
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, data, res.Data)
	assert.Empty(t, res.Path)
	assert.Empty(t, fr.Active())
}

func TestFileReceiver_SegmentsBeforeMeta(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	data := testData(2500)
	meta := transfer.MetaInfoForBytes("early.bin", "", data)
	metaFrame, segFrames := frames(t, transfer.NewJSONSerializer(), meta, data, 1000)

	// all segments overtake the meta message
	for _, f := range segFrames {
		reply, err := fr.HandleFrame(f)
		require.NoError(t, err)
		assert.Nil(t, reply)
	}
	_, ok := fr.Result(meta.ID)
	assert.False(t, ok)

	reply, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.True(t, reply.Success)

	res, ok := fr.Result(meta.ID)
	require.True(t, ok)
	assert.Equal(t, data, res.Data)
}

func TestFileReceiver_WritesAndVerifiesFile(t *testing.T) {
	dir := t.TempDir()
	ui := make(chan tea.Msg, 64)
	fr := NewFileReceiver(dir, ui, discardLogger())
	defer fr.Close()

	data := testData(4321)
	meta := transfer.MetaInfoForBytes("photo.jpg", "image/jpeg", data)
	metaFrame, segFrames := frames(t, transfer.NewBinarySerializer(), meta, data, 1024)

	_, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)
	var reply *transfer.ChunkMessage
	for _, f := range segFrames {
		reply, err = fr.HandleFrame(f)
		require.NoError(t, err)
	}
	require.NotNil(t, reply)
	require.True(t, reply.Success, reply.ErrorMessage)

	res, ok := fr.Result(meta.ID)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "photo.jpg"), res.Path)
	assert.Nil(t, res.Data)
	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ui:
			if done, ok := msg.(receiver.FileReceivedMsg); ok {
				assert.Equal(t, res.Path, done.Path)
				return
			}
		case <-timeout:
			t.Fatal("no FileReceivedMsg")
		}
	}
}

func TestFileReceiver_OutputPath(t *testing.T) {
	dir := t.TempDir()
	fr := NewFileReceiver(dir, nil, discardLogger())

	tests := []struct {
		name string
		want string
	}{
		{name: "plain.txt", want: "plain.txt"},
		{name: "../../etc/passwd", want: "passwd"},
		{name: `..\..\windows\evil.exe`, want: "evil.exe"},
		{name: "/abs/path/file.bin", want: "file.bin"},
		{name: "..", want: "Unnamed-id1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fr.outputPath(transfer.FileMetaInfo{ID: "id1", Name: tt.name})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), got)
		})
	}

	t.Run("existing file is not overwritten", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.txt"), nil, 0o644))
		got, err := fr.outputPath(transfer.FileMetaInfo{ID: "id2", Name: "dup.txt"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "dup (1).txt"), got)
	})
}

func TestFileReceiver_ChecksumMismatch(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	data := testData(300)
	meta := transfer.MetaInfoForBytes("x.bin", "", data)
	meta.Checksum = transfer.ChecksumBytes([]byte("other"))
	metaFrame, segFrames := frames(t, transfer.NewJSONSerializer(), meta, data, 100)

	_, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)
	var reply *transfer.ChunkMessage
	for _, f := range segFrames {
		reply, err = fr.HandleFrame(f)
		require.NoError(t, err)
	}
	require.NotNil(t, reply)
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.ErrorMessage)

	res, ok := fr.Result(meta.ID)
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, transfer.ErrChecksumMismatch)
}

func TestFileReceiver_InconsistentSegmentCount(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	meta := transfer.MetaInfoForBytes("x.bin", "", testData(300))

	reply, err := fr.HandleMessage(transfer.NewFileMetaMessage(meta, 7, 100))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.False(t, reply.Success)
}

func TestFileReceiver_RejectsOversizedAnnouncement(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		count     int
		chunkSize int
		want      error
	}{
		{name: "consistent huge count", size: 1 << 62, count: 1 << 62, chunkSize: 1, want: transfer.ErrInvalidMetaInfo},
		{name: "huge count without chunk size", size: 10, count: 1 << 62, chunkSize: 0, want: transfer.ErrInvalidChunkSize},
		{name: "chunk size above limit", size: 1 << 20, count: 1, chunkSize: 1 << 20, want: transfer.ErrInvalidChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := NewFileReceiver("", nil, discardLogger())
			meta := transfer.FileMetaInfo{ID: "huge", Name: "huge.bin", Size: tt.size}
			frame, err := transfer.NewBinarySerializer().Marshal(transfer.NewFileMetaMessage(meta, tt.count, tt.chunkSize))
			require.NoError(t, err)

			var reply *transfer.ChunkMessage
			require.NotPanics(t, func() { reply, err = fr.HandleFrame(frame) })
			require.NoError(t, err)
			require.NotNil(t, reply)
			assert.False(t, reply.Success)
			assert.Empty(t, fr.Active())

			res, ok := fr.Result(meta.ID)
			require.True(t, ok)
			assert.ErrorIs(t, res.Err, tt.want)
		})
	}
}

func TestFileReceiver_LimitsUnannouncedFiles(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	seg := transfer.Segment{Index: 0, Content: []byte("x")}

	for i := range maxEarlyFiles {
		_, err := fr.HandleMessage(transfer.NewSegmentMessage(fmt.Sprintf("file-%d", i), seg))
		require.NoError(t, err)
	}
	_, err := fr.HandleMessage(transfer.NewSegmentMessage("one-too-many", seg))
	assert.ErrorIs(t, err, ErrTooManyEarlyFiles)

	// ids already pending still accept segments
	_, err = fr.HandleMessage(transfer.NewSegmentMessage("file-0", transfer.Segment{Index: 1, Content: []byte("y")}))
	assert.NoError(t, err)
}

func TestFileReceiver_DuplicateAndUnknown(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	data := testData(300)
	meta := transfer.MetaInfoForBytes("x.bin", "", data)
	metaFrame, segFrames := frames(t, transfer.NewBinarySerializer(), meta, data, 100)

	_, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)
	_, err = fr.HandleFrame(metaFrame)
	assert.Error(t, err, "second announcement of the same file")

	_, err = fr.HandleFrame(segFrames[0])
	require.NoError(t, err)
	_, err = fr.HandleFrame(segFrames[0])
	assert.ErrorIs(t, err, transfer.ErrDuplicateSegment)

	_, err = fr.HandleFrame([]byte("garbage"))
	assert.Error(t, err)

	_, err = fr.HandleMessage(&transfer.ChunkMessage{Type: transfer.FileComplete, FileID: meta.ID})
	assert.ErrorIs(t, err, transfer.ErrUnknownMessageType)
}

func TestFileReceiver_Cancel(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	data := testData(300)
	meta := transfer.MetaInfoForBytes("x.bin", "", data)
	metaFrame, segFrames := frames(t, transfer.NewBinarySerializer(), meta, data, 100)

	_, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)
	_, err = fr.HandleFrame(segFrames[1])
	require.NoError(t, err)
	require.Len(t, fr.Active(), 1)

	reply, err := fr.HandleMessage(transfer.NewTransferCancelMessage(meta.ID, "user cancelled"))
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Empty(t, fr.Active())

	res, ok := fr.Result(meta.ID)
	require.True(t, ok)
	assert.ErrorIs(t, res.Err, ErrCancelledBySender)

	_, err = fr.HandleFrame(segFrames[2])
	assert.ErrorIs(t, err, transfer.ErrNotCompleting)
}

func TestFileReceiver_AbortAll(t *testing.T) {
	fr := NewFileReceiver("", nil, discardLogger())
	var results []Result
	fr.OnResult(func(r Result) { results = append(results, r) })

	data := testData(300)
	meta := transfer.MetaInfoForBytes("x.bin", "", data)
	metaFrame, _ := frames(t, transfer.NewBinarySerializer(), meta, data, 100)
	_, err := fr.HandleFrame(metaFrame)
	require.NoError(t, err)

	fr.AbortAll(assert.AnError)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, assert.AnError)
	assert.Empty(t, fr.Active())
}

func TestFileReceiver_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	fr := NewFileReceiver(dir, nil, discardLogger())
	meta := transfer.MetaInfoForBytes("empty.txt", "", nil)

	reply, err := fr.HandleMessage(transfer.NewFileMetaMessage(meta, 0, 1024))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.True(t, reply.Success, reply.ErrorMessage)

	info, err := os.Stat(filepath.Join(dir, "empty.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
