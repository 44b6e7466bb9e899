package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"AutoAgent/internal/agent"
)

const chatHelp = `Enter a goal and press Enter. Memory is kept between goals.
Commands: /reset clears memory, /exit quits.`

func newChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Pursue goals interactively, keeping memory between them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{interactive: true, withModel: true})
			if err != nil {
				return err
			}
			defer a.Close()
			a.startWorkers(ctx)

			orch, err := a.newOrchestrator(agent.WithStepHook(stepPrinter(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}
			return chatLoop(cmd, orch)
		},
	}
}

func chatLoop(cmd *cobra.Command, orch *agent.Orchestrator) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	render := newRenderer(out)
	scanner := bufio.NewScanner(cmd.InOrStdin())

	fmt.Fprintln(out, chatHelp)
	fresh := true
	for {
		fmt.Fprint(out, "\nGoal> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			orch.Memory().Clear()
			fresh = true
			fmt.Fprintln(out, "Memory cleared.")
			continue
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		}

		var opts []agent.RunOption
		if !fresh {
			opts = append(opts, agent.KeepMemory())
		}
		result := orch.Run(ctx, line, opts...)
		render.result(result)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fresh = false
	}
}
