package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rescp17/peerSplice/api"
	"github.com/rescp17/peerSplice/internal/config"
	"github.com/rescp17/peerSplice/pkg/discovery"
	"github.com/rescp17/peerSplice/pkg/ui"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

// peerApp is what send and receive have in common: an app that owns one
// connection and takes inbound signals from the relay.
type peerApp interface {
	ui.AppController
	Run(ctx context.Context) error
	HandleSignal(msg webrtc.SignalMessage)
}

// resolveRelay returns the relay URL, browsing mDNS when asked to.
func resolveRelay(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (string, error) {
	if !cfg.Discover {
		return cfg.RelayURL, nil
	}
	logger.Info("looking for a relay", "timeout", cfg.DiscoverTimeout)
	url, err := discovery.FindRelay(ctx, &discovery.MDNSAdapter{Logger: logger}, cfg.DiscoverTimeout)
	if err != nil {
		return "", err
	}
	logger.Info("found relay", "url", url)
	return url, nil
}

// dialRelay connects to the relay configured in cfg.
func dialRelay(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger) (*api.RelayClient, error) {
	url, err := resolveRelay(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := api.DialRelay(ctx, url, cfg.Room, cfg.PeerID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to join room %q at %s: %w", cfg.Room, url, err)
	}
	return client, nil
}

// runPeer runs app, pumps relay signals into it and hands the terminal to
// front. Everything stops once front returns.
func runPeer(ctx context.Context, app peerApp, client *api.RelayClient, front func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer client.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx)
	})
	g.Go(func() error {
		err := client.ReadLoop(gctx, app.HandleSignal)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		return front(gctx)
	})
	return g.Wait()
}
