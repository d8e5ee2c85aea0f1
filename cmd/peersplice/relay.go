package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/peerSplice/api"
	"github.com/rescp17/peerSplice/internal/config"
	"github.com/rescp17/peerSplice/pkg/discovery"
)

const shutdownTimeout = 5 * time.Second

func newRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the signaling relay",
		Args:  cobra.NoArgs,
	}
	cfg := config.BindRelayFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, closeLog, err := setupLogging(cfg.LogLevel, false)
		if err != nil {
			return err
		}
		defer closeLog()

		server := api.NewServer(api.ServerConfig{
			EchoMinDelay: cfg.EchoMinDelay,
			EchoMaxDelay: cfg.EchoMaxDelay,
			Logger:       logger,
		})

		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
		}
		httpServer := &http.Server{
			Handler:           server,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			logger.Info("relay listening", "addr", ln.Addr().String())
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
		if cfg.Announce {
			port := ln.Addr().(*net.TCPAddr).Port
			g.Go(func() error {
				return announce(ctx, port, logger)
			})
		}
		return g.Wait()
	}
	return cmd
}

func announce(ctx context.Context, port int, logger *slog.Logger) error {
	host, err := os.Hostname()
	if err != nil {
		host = appName
	}
	adapter := &discovery.MDNSAdapter{Logger: logger}
	return adapter.Announce(ctx, discovery.ServiceInfo{
		Name:   host,
		Type:   discovery.DefaultServerType,
		Domain: discovery.DefaultDomain,
		Port:   port,
	})
}
