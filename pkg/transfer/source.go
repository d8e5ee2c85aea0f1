package transfer

import (
	"fmt"
	"io"
	"os"
)

// ByteSource is random-access input for the splitter. ReadRange returns the
// bytes in [start, end).
type ByteSource interface {
	Size() int64
	ReadRange(start, end int64) ([]byte, error)
}

// BytesSource serves ranges of an in-memory buffer.
type BytesSource struct {
	data []byte
}

func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

func (s *BytesSource) Size() int64 {
	return int64(len(s.data))
}

func (s *BytesSource) ReadRange(start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > int64(len(s.data)) {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrRangeOutOfBounds, start, end, len(s.data))
	}
	out := make([]byte, end-start)
	copy(out, s.data[start:end])
	return out, nil
}

// FileSource reads ranges from an open file with ReadAt, so concurrent
// reads do not share a file offset.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFileSource opens path for reading. The caller must Close it.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &FileSource{file: f, size: info.Size()}, nil
}

func (s *FileSource) Size() int64 {
	return s.size
}

func (s *FileSource) ReadRange(start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > s.size {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrRangeOutOfBounds, start, end, s.size)
	}
	buf := make([]byte, end-start)
	n, err := s.file.ReadAt(buf, start)
	if err != nil && !(err == io.EOF && int64(n) == end-start) {
		return nil, fmt.Errorf("failed to read range [%d,%d): %w", start, end, err)
	}
	return buf, nil
}

func (s *FileSource) Close() error {
	return s.file.Close()
}
