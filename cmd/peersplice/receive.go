package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rescp17/peerSplice/internal/config"
	"github.com/rescp17/peerSplice/internal/util"
	"github.com/rescp17/peerSplice/pkg/receiver"
	"github.com/rescp17/peerSplice/pkg/ui"
)

func newReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Wait for files from the peer in the same room",
		Args:  cobra.NoArgs,
	}
	cfg := config.BindClientFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := util.EnsureOutputDir(cfg.OutputDir); err != nil {
			return err
		}

		logger, closeLog, err := setupLogging(cfg.LogLevel, !cfg.Plain)
		if err != nil {
			return err
		}
		defer closeLog()

		ctx := cmd.Context()
		client, err := dialRelay(ctx, cfg, logger)
		if err != nil {
			return err
		}

		app, err := receiver.NewApp(receiver.Config{
			OutputDir:  cfg.OutputDir,
			Serializer: cfg.Serializer,
			WebRTC:     cfg.WebRTCConfig(logger),
			Logger:     logger,
		}, client, nil)
		if err != nil {
			client.Close()
			return err
		}

		front := func(ctx context.Context) error {
			return ui.Run(ctx, ui.Options{
				Mode:   ui.Receiver,
				Room:   cfg.Room,
				PeerID: cfg.PeerID,
			}, app)
		}
		if cfg.Plain {
			front = func(ctx context.Context) error {
				renderPlain(ctx, app.UIMessages(), cmd.ErrOrStderr())
				return nil
			}
		}
		return runPeer(ctx, app, client, front)
	}
	return cmd
}
