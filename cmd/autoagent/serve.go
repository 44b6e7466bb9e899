package main

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/spf13/cobra"

	"AutoAgent/internal/api"
	"AutoAgent/pkg/logger"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and process background goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{withModel: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.startWorkers(ctx)

			server := api.NewServer(cfg.Server.Address, a.tasks,
				api.WithTools(a.tools),
				api.WithMetrics(a.metrics),
				api.WithLogger(logger.Named("api")),
			)
			logger.L().Info("服务已就绪", slog.String("addr", cfg.Server.Address), slog.Any("tools", a.tools.Names()))
			if err := server.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.address")
	return cmd
}
