package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/rescp17/peerSplice/internal/logging"
)

const (
	appName      = "peersplice"
	debugLogFile = "debug.log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Send files between two peers over a WebRTC data channel",
	}

	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newReceiveCmd())
	cmd.AddCommand(newDemoCmd())

	if err := fang.Execute(ctx, cmd); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the default logger. While the TUI owns the terminal
// logs go to debug.log instead of stderr.
func setupLogging(level string, tui bool) (*slog.Logger, func(), error) {
	if !tui {
		logger := logging.New(appName, level, os.Stderr)
		slog.SetDefault(logger)
		return logger, func() {}, nil
	}

	logger, f, err := logging.OpenFile(appName, level, debugLogFile)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close log file", "error", err)
		}
	}, nil
}
