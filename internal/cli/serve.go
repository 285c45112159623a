package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/swatchline/dispatch/internal/feed"
	"github.com/swatchline/dispatch/internal/httpapi"
	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/ledger"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen    string
	WithFeed  bool
	RefreshMS int
}

// NewServeCommand creates the serve command: the read-only status API,
// optionally alongside the NATS record feed.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API",
		Long: `Serve a read-only HTTP view of the ledger's items, refreshed on an
interval. With --with-feed, also subscribe to the NATS Streaming subject
and ingest incoming records into the ledger.

Example:
  dispatch serve -c dispatch.yaml --listen :8080 --with-feed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.WithFeed, "with-feed", false, "also run the NATS record feed")
	cmd.Flags().IntVar(&opts.RefreshMS, "refresh-ms", 5000, "snapshot refresh interval in milliseconds")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	listen := opts.Listen
	if listen == "" {
		listen = cfg.HTTP.Listen
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if opts.WithFeed {
		ingestor := &feed.Ingestor{
			ClusterID: cfg.Feed.ClusterID,
			ClientID:  cfg.Feed.ClientID,
			URL:       cfg.Feed.URL,
			Subject:   cfg.Feed.Subject,
			Durable:   cfg.Feed.Durable,
			Queue:     cfg.Feed.Queue,
			Sink:      led,
		}
		if err := ingestor.Run(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to start feed", err)
		}
	}

	server := httpapi.NewServer()
	if err := refreshSnapshot(ctx, led, server); err != nil {
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}
	go refreshLoop(ctx, led, server, time.Duration(opts.RefreshMS)*time.Millisecond)

	httpServer := &http.Server{Addr: listen, Handler: server.Router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown failed", "err", err)
		}
	}()

	slog.Info("status api listening", "addr", listen, "with_feed", opts.WithFeed)
	fmt.Fprintf(cmd.OutOrStdout(), "Status API listening on %s. Press Ctrl-C to stop.\n", listen)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "http server error", err)
	}
	slog.Info("status api stopped")
	return nil
}

// refreshSnapshot loads the ledger into a throwaway store and publishes
// the item views.
func refreshSnapshot(ctx context.Context, led ledger.Ledger, server *httpapi.Server) error {
	records, err := led.ReadRecords(ctx)
	if err != nil {
		return err
	}
	store := item.NewStore()
	store.Load(records)
	server.Update(store.All())
	return nil
}

func refreshLoop(ctx context.Context, led ledger.Ledger, server *httpapi.Server, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refreshSnapshot(ctx, led, server); err != nil {
				slog.Warn("snapshot refresh failed", "err", err)
			}
		}
	}
}
