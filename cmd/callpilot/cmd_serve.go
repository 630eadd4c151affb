package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/callpilot/callpilot/internal/tasks"
	"github.com/callpilot/callpilot/internal/webserver"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		host          string
		port          int
		allowRemote   bool
		providersPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task HTTP API",
		Long: `Start the CallPilot HTTP API.

Tasks are created with POST /api/v1/tasks and run in the background; poll
GET /api/v1/tasks/{id} for the outcomes and shortlist, then book a slot with
POST /api/v1/appointments/confirm.

The server binds to loopback (127.0.0.1) by default. Use --allow-remote to
bind to all interfaces.

Endpoints:
  GET  /health
  POST /api/v1/tasks
  GET  /api/v1/tasks
  GET  /api/v1/tasks/{id}
  POST /api/v1/appointments/confirm
  POST /api/v1/messages`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if providersPath != "" {
				cfg.Paths.Providers = absPath(providersPath)
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			logger := slog.Default()
			cfg.Server.Host = resolveHost(cfg.Server.Host, allowRemote, logger)

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			svc := tasks.NewService(tasks.NewMemoryStore(), a.coord, a.catalog,
				tasks.WithMaxAgents(cfg.Swarm.MaxAgents),
				tasks.WithLogger(logger))

			srv, err := webserver.New(webserver.Config{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Tasks:          svc,
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "CallPilot API listening on http://%s (%d providers)\n", srv.Addr(), a.catalog.Len())
			serveErr := srv.ListenAndServe(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := svc.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Tasks did not stop in time", "error", err)
			}
			return serveErr
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Address to bind (default from config, 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config, 5001)")
	cmd.Flags().BoolVar(&allowRemote, "allow-remote", false,
		"Allow binding to non-loopback addresses (WARNING: exposes the API to the network with no authentication)")
	cmd.Flags().StringVar(&providersPath, "providers", "", "Provider catalog file (overrides paths.providers)")

	return cmd
}

// resolveHost keeps the server on loopback unless allowRemote is set.
func resolveHost(host string, allowRemote bool, logger *slog.Logger) string {
	if allowRemote {
		if host == "" || host == "127.0.0.1" {
			host = "0.0.0.0"
		}
		logger.Warn("HTTP server binding to all interfaces, no authentication is provided", "host", host)
		return host
	}

	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		logger.Info("HTTP server listening on loopback only; use --allow-remote to expose it")
		return "127.0.0.1"
	}
	return host
}
