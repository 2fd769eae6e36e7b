// main.go
// Wires everything together: configuration, logging, metrics, the hub event
// loop and the WebSocket server. The loop and the server run side by side
// until SIGINT/SIGTERM, then the server drains and the hub tears down.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"keyrelay/internal/config"
	"keyrelay/internal/hub"
	"keyrelay/internal/keys"
	"keyrelay/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "keyrelay",
		Short:        "Real-time chat relay with per-pair public key exchange",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), genconfigCmd())
	return root
}

func serveCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cfg.Logger())
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to a TOML config file")
	return cmd
}

func genconfigCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "genconfig",
		Short: "Print the default configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.Encode(config.Default())
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := os.WriteFile(out, b, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := hub.NewManager(hub.Options{
		StrictHandshake:  cfg.Hub.StrictHandshake,
		RequireSharedKey: cfg.Hub.RequireSharedKey,
	}, keys.NewProvider(cfg.Hub.KeyWorkers, nil), hub.NewMetrics(reg), log)
	srv := server.New(cfg, manager, reg, log)

	log.WithFields(logrus.Fields{
		"strict_handshake":   cfg.Hub.StrictHandshake,
		"require_shared_key": cfg.Hub.RequireSharedKey,
		"auth":               cfg.Auth.AccessTokenSecret != "",
	}).Info("starting relay")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		manager.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	return g.Wait()
}
