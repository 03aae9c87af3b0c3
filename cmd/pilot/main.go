// File: cmd/pilot/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/pilot-cli/cmd"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

func main() {
	// Listen for interrupt signals (SIGINT, SIGTERM) so a Ctrl+C lands
	// between steps and the loop writes an interrupted checkpoint.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		// Conventional exit code for termination by SIGINT.
		os.Exit(130)
	case errors.Is(err, cmd.ErrRunFailed):
		// The failure panel is already on screen.
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
