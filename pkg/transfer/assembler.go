package transfer

import (
	"fmt"
	"sync"
)

// MaxSegmentCount bounds the segment table of a single file. At the default
// chunk size it allows files far larger than fit in memory.
const MaxSegmentCount = 1 << 24

// AssemblerState is the lifecycle state of a reassembled file.
type AssemblerState int

const (
	// AssemblerEmpty has no meta info yet
	AssemblerEmpty AssemblerState = iota
	// AssemblerReady has meta info and waits for the segment count
	AssemblerReady
	// AssemblerCompleting accepts segments
	AssemblerCompleting
	// AssemblerCompleted holds the full contiguous buffer
	AssemblerCompleted
	// AssemblerFailed finished with a size or checksum error, or was aborted
	AssemblerFailed
)

func (s AssemblerState) String() string {
	switch s {
	case AssemblerEmpty:
		return "empty"
	case AssemblerReady:
		return "ready"
	case AssemblerCompleting:
		return "completing"
	case AssemblerCompleted:
		return "completed"
	case AssemblerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type chunkNode struct {
	data []byte
	next *chunkNode
}

// segmentRun is a contiguous range of inserted segments. Runs are linked
// lists of chunks so merging is O(1); bytes are copied once, on completion.
type segmentRun struct {
	head *chunkNode
	tail *chunkNode
	size int64
}

func newSegmentRun(data []byte) *segmentRun {
	n := &chunkNode{data: data}
	return &segmentRun{head: n, tail: n, size: int64(len(data))}
}

// appendRun links o after r. o must not be used afterwards.
func (r *segmentRun) appendRun(o *segmentRun) {
	r.tail.next = o.head
	r.tail = o.tail
	r.size += o.size
}

func (r *segmentRun) bytes() []byte {
	buf := make([]byte, 0, r.size)
	for n := r.head; n != nil; n = n.next {
		buf = append(buf, n.data...)
	}
	return buf
}

// runEntry sits at both boundary indices of a run. corresponding is the index
// of the opposite boundary; a single-segment run points at itself.
type runEntry struct {
	corresponding int
	run           *segmentRun
}

// Assembler rebuilds a file from segments that may arrive in any order.
// Inserts are serialised internally, so it is safe for concurrent use.
type Assembler struct {
	mu sync.Mutex

	state        AssemblerState
	meta         FileMetaInfo
	segmentCount int
	chunkSize    int

	table         map[int]runEntry
	received      *bitmap
	receivedCount int
	receivedBytes int64

	data []byte
	err  error
}

// NewAssembler returns an empty assembler for the receiving side.
func NewAssembler() *Assembler {
	return &Assembler{
		state: AssemblerEmpty,
		table: make(map[int]runEntry),
	}
}

// NewAssemblerFromBytes wraps an existing buffer; it starts out completed.
func NewAssemblerFromBytes(meta FileMetaInfo, data []byte) *Assembler {
	meta.Size = int64(len(data))
	return &Assembler{
		state: AssemblerCompleted,
		meta:  NewFileMetaInfo(meta),
		table: make(map[int]runEntry),
		data:  data,
	}
}

// SetMetaInfo is accepted only while the assembler is empty.
func (a *Assembler) SetMetaInfo(meta FileMetaInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != AssemblerEmpty {
		return fmt.Errorf("%w: set meta info in state %s", ErrInvalidStateTransition, a.state)
	}
	a.meta = NewFileMetaInfo(meta)
	a.state = AssemblerReady
	return nil
}

// StartSplice fixes the number of segments and starts accepting them.
// chunkSize may be zero when the sender's chunk size is unknown; when it is
// set, the count and every segment length are checked against meta.Size.
// A zero count or zero size completes immediately with an empty buffer.
func (a *Assembler) StartSplice(segmentCount int, chunkSize int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != AssemblerReady {
		return fmt.Errorf("%w: start splice in state %s", ErrInvalidStateTransition, a.state)
	}
	if segmentCount < 0 {
		return fmt.Errorf("%w: negative segment count %d", ErrInvalidMetaInfo, segmentCount)
	}
	if segmentCount > MaxSegmentCount {
		return fmt.Errorf("%w: %d segments exceeds %d", ErrInvalidMetaInfo, segmentCount, MaxSegmentCount)
	}
	if chunkSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if chunkSize > 0 {
		if want := SegmentCount(a.meta.Size, chunkSize); want != segmentCount {
			return fmt.Errorf("%w: %d bytes at chunk size %d is %d segments, got %d",
				ErrInvalidMetaInfo, a.meta.Size, chunkSize, want, segmentCount)
		}
	}

	a.segmentCount = segmentCount
	a.chunkSize = chunkSize
	a.received = newBitmap(segmentCount)
	a.state = AssemblerCompleting

	if segmentCount == 0 || a.meta.Size == 0 {
		a.finishLocked(nil)
	}
	return a.err
}

// InsertSegment merges seg into the run table. Out-of-range, duplicate and
// wrongly sized segments are rejected before the table is touched.
func (a *Assembler) InsertSegment(seg Segment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != AssemblerCompleting {
		return fmt.Errorf("%w: state is %s", ErrNotCompleting, a.state)
	}
	index := seg.Index
	if index < 0 || index >= a.segmentCount {
		return fmt.Errorf("%w: index %d, segment count %d", ErrSegmentOutOfRange, index, a.segmentCount)
	}
	if a.received.get(index) {
		return fmt.Errorf("%w: index %d", ErrDuplicateSegment, index)
	}
	if a.chunkSize > 0 {
		if want := SegmentLength(a.meta.Size, a.chunkSize, index); len(seg.Content) != want {
			return fmt.Errorf("%w: index %d has %d bytes, want %d", ErrSegmentLength, index, len(seg.Content), want)
		}
	} else if a.receivedBytes+int64(len(seg.Content)) > a.meta.Size {
		return fmt.Errorf("%w: index %d would exceed %d bytes", ErrSizeMismatch, index, a.meta.Size)
	}

	content := make([]byte, len(seg.Content))
	copy(content, seg.Content)

	merged := newSegmentRun(content)
	start, end := index, index

	// index-1 can only be the right boundary of its run, and index+1 only the
	// left boundary of its run, because index itself is not yet covered.
	if left, ok := a.table[index-1]; ok {
		start = left.corresponding
		delete(a.table, index-1)
		delete(a.table, start)
		left.run.appendRun(merged)
		merged = left.run
	}
	if right, ok := a.table[index+1]; ok {
		end = right.corresponding
		delete(a.table, index+1)
		delete(a.table, end)
		merged.appendRun(right.run)
	}

	a.table[start] = runEntry{corresponding: end, run: merged}
	a.table[end] = runEntry{corresponding: start, run: merged}

	a.received.set(index)
	a.receivedCount++
	a.receivedBytes += int64(len(content))

	if first, ok := a.table[0]; ok && first.corresponding == a.segmentCount-1 {
		a.finishLocked(first.run)
		return a.err
	}
	return nil
}

// finishLocked adopts the run as the final buffer and verifies it.
func (a *Assembler) finishLocked(run *segmentRun) {
	data := []byte{}
	if run != nil {
		data = run.bytes()
	}
	clear(a.table)

	if int64(len(data)) != a.meta.Size {
		a.fail(fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, len(data), a.meta.Size))
		return
	}
	if a.meta.Checksum != "" {
		if sum := ChecksumBytes(data); sum != a.meta.Checksum {
			a.fail(fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, a.meta.Checksum))
			return
		}
	}
	a.data = data
	a.state = AssemblerCompleted
}

func (a *Assembler) fail(err error) {
	a.err = err
	a.data = nil
	a.state = AssemblerFailed
}

// Abort discards any partial data. It has no effect once the assembler has
// completed or failed.
func (a *Assembler) Abort(reason error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == AssemblerCompleted || a.state == AssemblerFailed {
		return
	}
	clear(a.table)
	a.fail(reason)
}

func (a *Assembler) State() AssemblerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Assembler) MetaInfo() FileMetaInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta
}

func (a *Assembler) SegmentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.segmentCount
}

// Err returns the reason the assembler failed, if it did.
func (a *Assembler) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Bytes returns the reassembled buffer once completed, nil otherwise.
// The caller must not modify it.
func (a *Assembler) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != AssemblerCompleted {
		return nil
	}
	return a.data
}

// Progress reports how many segments and bytes have been inserted so far.
func (a *Assembler) Progress() (segments int, bytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receivedCount, a.receivedBytes
}
