package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tryon/internal/daemon"
	"tryon/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the try-on daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(cmd.Context(), ctx, nil)
		},
	}
}

// runDaemonProcess blocks until the parent context is canceled or the process
// receives SIGINT/SIGTERM. ready, when non-nil, receives the daemon once it
// is serving.
func runDaemonProcess(cmdCtx context.Context, ctx *commandContext, ready func(*daemon.Daemon)) error {
	if ctx == nil {
		return fmt.Errorf("command context is required")
	}
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := logging.ArchiveCurrent(cfg.Paths.LogDir, time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to archive previous log: %v\n", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	d, err := daemon.Open(cfg, logger, daemon.WithFalOptions(ctx.falOptions...))
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	status := d.Status(signalCtx)
	logger.Info("tryon listening",
		logging.String(logging.FieldEventType, "server_listening"),
		logging.String("address", status.Address),
		logging.String("history_backend", status.HistoryBackend),
		logging.Int("pid", status.PID),
	)
	if ready != nil {
		ready(d)
	}

	<-signalCtx.Done()
	logger.Info("shutdown requested", logging.String(logging.FieldEventType, "daemon_shutdown"))
	d.Stop()
	if err := cmdCtx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
