package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		noWorker   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the background scheduler",
		Long: `Starts the webhook and API server. Unless --no-worker is set, the queue
processor runs in the same process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, !noWorker)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run the background scheduler")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the background scheduler",
		Long:  "Drains the message queue, fires schedule automations, aggregates metrics and cleans up old rows.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	return cmd
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runServe(cmd *cobra.Command, configPath string, port int, withWorker bool) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}
	if port <= 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	n := 1
	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start(ctx, server.StartOpts{
			DB:     a.db,
			Engine: a.engine,
			Port:   port,
			Out:    cmd.OutOrStdout(),
			Logger: a.log.WithField("component", "http"),
		})
	}()
	if withWorker {
		n++
		go func() { errCh <- a.processor.Run(ctx) }()
	}

	// The first component to stop takes the other one down with it.
	var firstErr error
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	return firstErr
}

func runWorker(cmd *cobra.Command, configPath string) error {
	a, err := newApp(configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Worker running %v\n", a.processor.Scheduler().Jobs())
	return a.processor.Run(ctx)
}
