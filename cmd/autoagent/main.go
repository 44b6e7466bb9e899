// Command autoagent runs the tool-using agent from the terminal, as an HTTP
// service or as an MCP tool server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"AutoAgent/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
