package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"AutoAgent/internal/agent"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Pursue a single goal and print the final result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{interactive: term.IsTerminal(int(os.Stdin.Fd())), withModel: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.startWorkers(ctx)

			var opts []agent.Option
			if !quiet {
				opts = append(opts, agent.WithStepHook(stepPrinter(cmd.ErrOrStderr())))
			}
			orch, err := a.newOrchestrator(opts...)
			if err != nil {
				return err
			}

			result := orch.Run(ctx, joinArgs(args))
			newRenderer(cmd.OutOrStdout()).result(result)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print intermediate steps")
	return cmd
}
