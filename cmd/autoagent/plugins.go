package main

import (
	stdErrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"AutoAgent/pkg/logger"
	"AutoAgent/pkg/plugin"
)

func newPluginsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage tool plugins",
	}
	cmd.AddCommand(newPluginsListCmd(flags), newPluginsInstallCmd(flags))
	return cmd
}

func pluginManager(flags *rootFlags, cmd *cobra.Command) (*plugin.Manager, error) {
	cfg, err := flags.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return plugin.NewManager(cfg.Plugins.Dir, plugin.WithLogger(logger.Named("plugin"))), nil
}

func newPluginsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := pluginManager(flags, cmd)
			if err != nil {
				return err
			}
			names, err := manager.Installed()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintf(out, "No plugins installed in %s.\n", manager.Dir())
				return nil
			}
			fmt.Fprintf(out, "Installed plugins in %s:\n", manager.Dir())
			for _, name := range names {
				fmt.Fprintf(out, "- %s\n", name)
			}
			return nil
		},
	}
}

func newPluginsInstallCmd(flags *rootFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "install <repo_url>",
		Short: "Install a plugin from a git repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := pluginManager(flags, cmd)
			if err != nil {
				return err
			}
			path, err := manager.Install(cmd.Context(), args[0], name)
			if stdErrors.Is(err, plugin.ErrAlreadyInstalled) {
				fmt.Fprintf(cmd.OutOrStdout(), "Plugin already installed at %s.\n", path)
				return nil
			}
			if err != nil {
				return err
			}
			installed := name
			if installed == "" {
				installed = plugin.InferName(args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plugin '%s' installed at %s. Add it to plugins.enabled to load its tools.\n", installed, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Directory name for the plugin, inferred from the URL when empty")
	return cmd
}
