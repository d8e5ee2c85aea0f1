package transfer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Splitter cuts a byte source into fixed-size segments. Reads run
// concurrently up to maxReads; the sink is never called concurrently.
type Splitter struct {
	chunkSize int
	maxReads  int
}

func NewSplitter(chunkSize, maxReads int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if maxReads <= 0 {
		maxReads = 1
	}
	return &Splitter{chunkSize: chunkSize, maxReads: maxReads}, nil
}

func (s *Splitter) ChunkSize() int {
	return s.chunkSize
}

// Split reports the segment count to onStart before any segment is read,
// then hands every segment to sink exactly once. Segments may reach the sink
// in any order. The first read or sink error cancels the remaining reads.
func (s *Splitter) Split(ctx context.Context, src ByteSource, onStart func(count int), sink func(Segment) error) error {
	size := src.Size()
	count := SegmentCount(size, s.chunkSize)
	if onStart != nil {
		onStart(count)
	}
	if count == 0 {
		return nil
	}

	var sinkMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxReads)

	for i := 0; i < count; i++ {
		if gctx.Err() != nil {
			break
		}
		index := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := int64(index) * int64(s.chunkSize)
			end := min(start+int64(s.chunkSize), size)

			content, err := src.ReadRange(start, end)
			if err != nil {
				return fmt.Errorf("failed to read segment %d: %w", index, err)
			}

			sinkMu.Lock()
			defer sinkMu.Unlock()
			if err := gctx.Err(); err != nil {
				return err
			}
			return sink(Segment{Index: index, Content: content})
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// SplitBytes splits an in-memory buffer synchronously, in index order.
func SplitBytes(data []byte, chunkSize int) ([]Segment, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	count := SegmentCount(int64(len(data)), chunkSize)
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(data))
		segments = append(segments, Segment{Index: i, Content: data[start:end]})
	}
	return segments, nil
}
