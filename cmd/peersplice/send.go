package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/rescp17/peerSplice/internal/config"
	"github.com/rescp17/peerSplice/pkg/filePicker"
	"github.com/rescp17/peerSplice/pkg/sender"
	"github.com/rescp17/peerSplice/pkg/ui"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send a file to the peer in the same room",
		Long:  "Send a file to the peer in the same room. Without a file argument a picker opens.",
		Args:  cobra.MaximumNArgs(1),
	}
	cfg := config.BindClientFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, closeLog, err := setupLogging(cfg.LogLevel, !cfg.Plain)
		if err != nil {
			return err
		}
		defer closeLog()

		var path string
		switch {
		case len(args) == 1:
			path = args[0]
		case cfg.Plain:
			return errors.New("a file argument is required with --plain")
		default:
			if path, err = filePicker.Pick(cmd.Context(), ""); err != nil {
				return err
			}
		}

		tc, err := cfg.TransferConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := dialRelay(ctx, cfg, logger)
		if err != nil {
			return err
		}

		app, err := sender.NewApp(sender.Config{
			Transfer: tc,
			WebRTC:   cfg.WebRTCConfig(logger),
			Logger:   logger,
		}, client, nil)
		if err != nil {
			client.Close()
			return err
		}

		front := func(ctx context.Context) error {
			return ui.Run(ctx, ui.Options{
				Mode:         ui.Sender,
				Room:         cfg.Room,
				PeerID:       cfg.PeerID,
				SendPath:     path,
				ExitWhenDone: true,
			}, app)
		}
		if cfg.Plain {
			front = func(ctx context.Context) error {
				return plainSend(ctx, app, path, cmd.ErrOrStderr())
			}
		}
		return runPeer(ctx, app, client, front)
	}
	return cmd
}
