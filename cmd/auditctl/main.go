// Command auditctl runs audit passes and manages rule files from a shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/salesaudit/internal/app"
	"github.com/liamcoop/salesaudit/internal/config"
	"github.com/liamcoop/salesaudit/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "auditctl",
	Short:         "Sales audit operator CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openApp wires the components and returns a cleanup that drains notifications
func openApp(ctx context.Context) (*app.App, func(), error) {
	a, err := app.Open(ctx, config.Load())
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.Close(closeCtx)
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Shutdown(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
