package transfer

import (
	"sync"
	"time"
)

// TransferState represents the current state of a file transfer
type TransferState int

const (
	TransferStatePending TransferState = iota
	TransferStateActive
	TransferStateCompleted
	TransferStateFailed
	TransferStateCancelled
)

func (ts TransferState) String() string {
	switch ts {
	case TransferStatePending:
		return "pending"
	case TransferStateActive:
		return "active"
	case TransferStateCompleted:
		return "completed"
	case TransferStateFailed:
		return "failed"
	case TransferStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the transfer state is final (completed, failed, or cancelled)
func (ts TransferState) IsTerminal() bool {
	return ts == TransferStateCompleted || ts == TransferStateFailed || ts == TransferStateCancelled
}

// CanTransitionTo checks if a state transition is valid
func (ts TransferState) CanTransitionTo(newState TransferState) bool {
	switch ts {
	case TransferStatePending:
		return newState == TransferStateActive || newState == TransferStateCancelled || newState == TransferStateFailed
	case TransferStateActive:
		return newState == TransferStateCompleted || newState == TransferStateFailed || newState == TransferStateCancelled
	default:
		return false
	}
}

// TransferStatus is a point-in-time view of a transfer's progress.
type TransferStatus struct {
	FileID   string        `json:"file_id"`
	FileName string        `json:"file_name"`
	State    TransferState `json:"state"`

	Bytes         int64 `json:"bytes"`
	TotalBytes    int64 `json:"total_bytes"`
	Segments      int   `json:"segments"`
	TotalSegments int   `json:"total_segments"`

	TransferRate float64       `json:"transfer_rate"` // bytes per second
	ETA          time.Duration `json:"eta"`

	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time"`

	LastError error `json:"-"`
}

// GetProgressPercentage calculates the completion percentage (0-100)
func (ts TransferStatus) GetProgressPercentage() float64 {
	if ts.TotalBytes == 0 {
		if ts.State == TransferStateCompleted {
			return 100.0
		}
		return 0.0
	}
	return float64(ts.Bytes) / float64(ts.TotalBytes) * 100.0
}

// GetRemainingBytes returns the number of bytes left to transfer
func (ts TransferStatus) GetRemainingBytes() int64 {
	return max(ts.TotalBytes-ts.Bytes, 0)
}

// ProgressTracker accumulates segment progress for one file. It is fed from
// the splitter sink on the sending side and from assembler inserts on the
// receiving side.
type ProgressTracker struct {
	mu     sync.Mutex
	status TransferStatus
	now    func() time.Time
}

func NewProgressTracker(meta FileMetaInfo, totalSegments int) *ProgressTracker {
	return &ProgressTracker{
		status: TransferStatus{
			FileID:        meta.ID,
			FileName:      meta.Name,
			State:         TransferStatePending,
			TotalBytes:    meta.Size,
			TotalSegments: totalSegments,
		},
		now: time.Now,
	}
}

// Start moves the transfer to active and starts the rate clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.State.CanTransitionTo(TransferStateActive) {
		return
	}
	now := p.now()
	p.status.State = TransferStateActive
	p.status.StartTime = now
	p.status.LastUpdateTime = now
}

// Add records one more segment of n bytes.
func (p *ProgressTracker) Add(n int) TransferStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Segments++
	p.status.Bytes += int64(n)
	p.status.LastUpdateTime = p.now()
	p.calculateMetrics()
	return p.status
}

// Finish moves the transfer to a terminal state. A nil err means completed.
func (p *ProgressTracker) Finish(err error) TransferStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := TransferStateCompleted
	if err != nil {
		next = TransferStateFailed
	}
	if p.status.State.CanTransitionTo(next) {
		p.status.State = next
		p.status.LastError = err
		p.status.LastUpdateTime = p.now()
		if next == TransferStateCompleted {
			p.status.ETA = 0
		}
	}
	return p.status
}

// Cancel moves a non-terminal transfer to cancelled.
func (p *ProgressTracker) Cancel() TransferStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.CanTransitionTo(TransferStateCancelled) {
		p.status.State = TransferStateCancelled
		p.status.LastUpdateTime = p.now()
	}
	return p.status
}

func (p *ProgressTracker) Status() TransferStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// calculateMetrics recalculates transfer rate and ETA based on current progress
func (p *ProgressTracker) calculateMetrics() {
	if p.status.State != TransferStateActive {
		return
	}
	elapsed := p.status.LastUpdateTime.Sub(p.status.StartTime)
	if elapsed <= 0 {
		return
	}
	p.status.TransferRate = float64(p.status.Bytes) / elapsed.Seconds()
	if p.status.TransferRate > 0 {
		remaining := float64(p.status.GetRemainingBytes())
		p.status.ETA = time.Duration(remaining / p.status.TransferRate * float64(time.Second))
	}
}
