package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"AutoAgent/internal/registry"
)

func newToolsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools available with the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{interactive: true})
			if err != nil {
				return err
			}
			defer a.Close()

			newRenderer(cmd.OutOrStdout()).markdown(toolsTable(a.tools.Available()))
			return nil
		},
	}
}

func toolsTable(descs []registry.Descriptor) string {
	if len(descs) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	b.WriteString("| Tool | Dangerous | Source | Description |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, d := range descs {
		dangerous := "no"
		if d.Dangerous {
			dangerous = "yes"
		}
		description := strings.ReplaceAll(strings.Join(strings.Fields(d.Description), " "), "|", `\|`)
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d.Name, dangerous, d.Source, description)
	}
	return b.String()
}
