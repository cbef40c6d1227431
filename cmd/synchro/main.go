// Command synchro is a thin, runnable demonstration of the replication
// engine: "serve" mutates a producer-side Set and publishes it to a
// JSON-file-backed datastore; "mirror" polls that file and keeps a
// consumer-side Set in sync with it. There is no TUI, colour, or export
// here — just enough surface to exercise the engine end to end from a
// terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "synchro",
	Short: "Mirror a typed, identified object set between a producer and a consumer",
	Long: `synchro replicates a collection of typed, identified objects from a
producer to one or more consumers over a polled key-value datastore.

  synchro serve   runs a producer endpoint, mutating demo items on a timer
  synchro mirror  runs a consumer engine against a producer's published state`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a synchro config YAML file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
