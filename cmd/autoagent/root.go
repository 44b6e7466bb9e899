package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"AutoAgent/internal/config"
	"AutoAgent/pkg/logger"
)

const defaultConfigPath = "config.yaml"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath      string
	verbose         bool
	enableDangerous bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "autoagent",
		Short:         "Autonomous agent that pursues goals with tools",
		Long:          `AutoAgent drives a language model through a Thought/Action/Observation loop and lets it call tools until it reaches a final answer.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flags.enableDangerous, "enable-dangerous-tools", false,
		"Enable dangerous tools (file_system, database, command_line, python_exec, task_spawner) regardless of the config")

	cmd.AddCommand(
		newRunCmd(flags),
		newChatCmd(flags),
		newServeCmd(flags),
		newToolsCmd(flags),
		newMCPCmd(flags),
		newPluginsCmd(flags),
	)
	return cmd
}

// loadConfig reads the configuration, applies command-line overrides and
// initialises the loggers. A missing default config file falls back to
// built-in defaults; an explicitly named file must exist.
func (f *rootFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(f.configPath); statErr != nil && !cmd.Flags().Changed("config") {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
	}

	if f.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logger.Init(cfg.Logging); err != nil {
		logger.L().Debug("logger already initialised", slog.Any("error", err))
	}
	if f.verbose {
		logger.SetLevel(slog.LevelDebug)
	}

	if f.enableDangerous {
		if cfg.EnableDangerousTools {
			logger.L().Warn("--enable-dangerous-tools used, but dangerous tools are already enabled in config")
		} else {
			logger.L().Warn("overriding config: dangerous tools enabled via command-line flag")
			logger.Audit().Warn("dangerous tools enabled by flag", slog.String("config", f.configPath))
			cfg.EnableDangerousTools = true
		}
	}
	return cfg, nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
