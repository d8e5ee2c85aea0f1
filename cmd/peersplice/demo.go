package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/pion/ice/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/peerSplice/api"
	"github.com/rescp17/peerSplice/internal/util"
	"github.com/rescp17/peerSplice/pkg/receiver"
	"github.com/rescp17/peerSplice/pkg/sender"
	"github.com/rescp17/peerSplice/pkg/transfer"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

const (
	demoGreeting    = "Hello!"
	demoDefaultSize = 1 << 20
	demoTimeout     = time.Minute
)

type demoOptions struct {
	Loopback api.LoopbackOptions
	Transfer *transfer.TransferConfig
	WebRTC   webrtc.Config
	// Path is sent after the greeting; empty sends Size random bytes
	Path   string
	Size   int
	Logger *slog.Logger
	Out    io.Writer
}

func newDemoCmd() *cobra.Command {
	var (
		logLevel   string
		chunkSize  int
		serializer string
		opts       = demoOptions{Size: demoDefaultSize}
	)
	cmd := &cobra.Command{
		Use:   "demo [file]",
		Short: "Connect two peers in this process and transfer a greeting and a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closeLog, err := setupLogging(logLevel, false)
			if err != nil {
				return err
			}
			defer closeLog()

			tc := transfer.DefaultTransferConfig()
			tc.ChunkSize = chunkSize
			tc.Serializer = serializer
			if err := tc.Validate(); err != nil {
				return err
			}
			if len(args) == 1 {
				opts.Path = args[0]
			}
			opts.Transfer = tc
			opts.WebRTC = webrtc.DefaultConfig()
			// both peers run in this process
			opts.WebRTC.MulticastDNS = ice.MulticastDNSModeDisabled
			opts.Logger = logger
			opts.Out = cmd.OutOrStdout()

			ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
			defer cancel()
			return runDemo(ctx, opts, nil, nil)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	fs.IntVar(&chunkSize, "chunk-size", transfer.DefaultChunkSize, "segment size in bytes")
	fs.StringVar(&serializer, "serializer", transfer.DefaultSerializer, "wire format (json, binary)")
	fs.IntVar(&opts.Size, "size", opts.Size, "random payload size when no file is given")
	fs.DurationVar(&opts.Loopback.MinDelay, "min-delay", 0, "minimum relay delay")
	fs.DurationVar(&opts.Loopback.MaxDelay, "max-delay", 0, "maximum relay delay")
	fs.Float64Var(&opts.Loopback.CandidateDropRate, "drop-candidates", 0, "fraction of candidate signals the relay drops")
	fs.Uint64Var(&opts.Loopback.Seed, "seed", 1, "seed for relay delays and drops")
	return cmd
}

// runDemo wires a sender and a receiver through an in-memory relay, sends a
// greeting, then splits and reassembles a payload. Nil factories use pion.
func runDemo(ctx context.Context, opts demoOptions, senderFactory, receiverFactory webrtc.SessionFactory) error {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transfer == nil {
		opts.Transfer = transfer.DefaultTransferConfig()
	}

	left, right := api.NewLoopbackPair(opts.Loopback)
	defer left.Close()
	defer right.Close()

	snd, err := sender.NewApp(sender.Config{
		Transfer: opts.Transfer,
		WebRTC:   opts.WebRTC,
		Logger:   opts.Logger,
	}, left, senderFactory)
	if err != nil {
		return err
	}
	rcv, err := receiver.NewApp(receiver.Config{
		Serializer: opts.Transfer.Serializer,
		WebRTC:     opts.WebRTC,
		Logger:     opts.Logger,
	}, right, receiverFactory)
	if err != nil {
		return err
	}

	results := make(chan receiver.Result, 4)
	rcv.Files().OnResult(func(res receiver.Result) {
		results <- res
	})

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return snd.Run(gctx) })
	g.Go(func() error { return rcv.Run(gctx) })
	g.Go(func() error {
		left.Serve(gctx, snd.HandleSignal)
		return nil
	})
	g.Go(func() error {
		right.Serve(gctx, rcv.HandleSignal)
		return nil
	})
	go discardMessages(gctx, snd.UIMessages())
	go discardMessages(gctx, rcv.UIMessages())

	err = demoTransfers(gctx, opts, snd, results)
	cancel()
	return errors.Join(err, g.Wait())
}

func demoTransfers(ctx context.Context, opts demoOptions, snd *sender.App, results <-chan receiver.Result) error {
	out := opts.Out

	if err := snd.SendBytes(ctx, "greeting.txt", []byte(demoGreeting)); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	res, err := awaitResult(ctx, results)
	if err != nil {
		return err
	}
	if string(res.Data) != demoGreeting {
		return fmt.Errorf("greeting: got %q, want %q", res.Data, demoGreeting)
	}
	fmt.Fprintf(out, "data channel: %s\n", res.Data)

	var payload []byte
	if opts.Path != "" {
		if err := snd.SendFile(ctx, opts.Path); err != nil {
			return fmt.Errorf("send %s: %w", opts.Path, err)
		}
	} else {
		payload = demoPayload(opts.Size, opts.Loopback.Seed)
		if err := snd.SendBytes(ctx, "payload.bin", payload); err != nil {
			return fmt.Errorf("send payload: %w", err)
		}
	}
	if res, err = awaitResult(ctx, results); err != nil {
		return err
	}
	if payload != nil && !bytes.Equal(res.Data, payload) {
		return errors.New("payload: reassembled bytes differ from the source")
	}

	count := transfer.SegmentCount(res.Meta.Size, opts.Transfer.ChunkSize)
	fmt.Fprintf(out, "split %s into %d segments and reassembled %s (checksum %s)\n",
		res.Meta.Name, count, util.FormatSize(res.Meta.Size), shortChecksum(res.Meta.Checksum))
	return nil
}

func awaitResult(ctx context.Context, results <-chan receiver.Result) (receiver.Result, error) {
	select {
	case <-ctx.Done():
		return receiver.Result{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return res, fmt.Errorf("%s: %w", res.Meta.Name, res.Err)
		}
		return res, nil
	}
}

func demoPayload(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Uint32())
	}
	return b
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func discardMessages[T any](ctx context.Context, ch <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}
