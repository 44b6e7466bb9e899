package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"AutoAgent/internal/mcpserver"
	"AutoAgent/pkg/logger"
)

func newMCPCmd(flags *rootFlags) *cobra.Command {
	var toolsOnly bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Expose the tools as a Model Context Protocol server over stdio",
		Long: `Starts an MCP server on standard input and output so that MCP clients can call
the configured tools directly. Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{withModel: !toolsOnly})
			if err != nil {
				return err
			}
			defer a.Close()
			a.startWorkers(ctx)

			srv := mcpserver.New(a.tools, mcpserver.WithVersion(version), mcpserver.WithLogger(logger.Named("mcp")))
			logger.L().Info("MCP 服务已启动", slog.Int("tools", a.tools.Len()))
			return mcpserver.ServeStdio(srv)
		},
	}
	cmd.Flags().BoolVar(&toolsOnly, "tools-only", false,
		"Do not build a language model; spawned background tasks stay pending")
	return cmd
}
