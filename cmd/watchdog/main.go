// watchdog tracks heartbeats from named sources and reports the ones that
// have gone silent for longer than their tolerance.
//
// Usage:
//
//	watchdog init --config ./watchdog.yaml
//	watchdog run --config ./watchdog.yaml
//	watchdog status
//	watchdog heartbeat stylus
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "watchdog",
		Short:         "Watch heartbeat sources and flag stale ones",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(heartbeatCmd())
	rootCmd.AddCommand(initCmd())
	return rootCmd
}
