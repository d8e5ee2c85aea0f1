package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rescp17/peerSplice/pkg/concurrency"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

// LoopbackOptions shapes the in-memory relay. Random delays reorder
// messages; candidates may also be dropped.
type LoopbackOptions struct {
	MinDelay          time.Duration
	MaxDelay          time.Duration
	CandidateDropRate float64
	Seed              uint64
}

// LoopbackEndpoint is one side of an in-memory relay between two peers in
// the same process. Every message goes through a JSON round trip.
type LoopbackEndpoint struct {
	name  string
	peer  *LoopbackEndpoint
	inbox *concurrency.Mailbox[webrtc.SignalMessage]
	opts  LoopbackOptions

	rngMu *sync.Mutex
	rng   *rand.Rand

	pending sync.WaitGroup
}

// NewLoopbackPair returns two connected endpoints.
func NewLoopbackPair(opts LoopbackOptions) (*LoopbackEndpoint, *LoopbackEndpoint) {
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	rngMu := &sync.Mutex{}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	a := &LoopbackEndpoint{name: "a", inbox: concurrency.NewMailbox[webrtc.SignalMessage](), opts: opts, rngMu: rngMu, rng: rng}
	b := &LoopbackEndpoint{name: "b", inbox: concurrency.NewMailbox[webrtc.SignalMessage](), opts: opts, rngMu: rngMu, rng: rng}
	a.peer, b.peer = b, a
	return a, b
}

// SendSignal schedules msg for delivery to the other endpoint.
func (e *LoopbackEndpoint) SendSignal(msg webrtc.SignalMessage) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	var out webrtc.SignalMessage
	if err := json.Unmarshal(frame, &out); err != nil {
		return fmt.Errorf("failed to decode signal: %w", err)
	}

	drop, delay := e.roll(msg.Kind())
	if drop {
		return nil
	}
	if delay == 0 {
		e.peer.inbox.Put(out)
		return nil
	}
	e.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer e.pending.Done()
		e.peer.inbox.Put(out)
	})
	return nil
}

func (e *LoopbackEndpoint) roll(kind webrtc.SignalKind) (bool, time.Duration) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	if kind == webrtc.SignalCandidate && e.opts.CandidateDropRate > 0 &&
		e.rng.Float64() < e.opts.CandidateDropRate {
		return true, 0
	}
	lo, hi := e.opts.MinDelay, e.opts.MaxDelay
	if hi <= lo {
		return false, lo
	}
	return false, lo + time.Duration(e.rng.Int64N(int64(hi-lo)))
}

// Serve hands every message addressed to this endpoint to onSignal until
// ctx is cancelled or Close is called.
func (e *LoopbackEndpoint) Serve(ctx context.Context, onSignal func(webrtc.SignalMessage)) {
	stop := context.AfterFunc(ctx, e.inbox.Close)
	defer stop()
	e.inbox.Drain(onSignal)
}

// Flush waits for messages this endpoint has sent to reach the other side.
func (e *LoopbackEndpoint) Flush() {
	e.pending.Wait()
}

// Close stops Serve after queued messages have been handed over.
func (e *LoopbackEndpoint) Close() {
	e.inbox.Close()
}

func (e *LoopbackEndpoint) String() string {
	return "loopback-" + e.name
}
