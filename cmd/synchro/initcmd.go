package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gosynchro/synchro/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter synchro.yaml with the documented defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "synchro.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	cfg := config.Default()
	cfg.ObservedProperties = []string{"name", "color", "legs"}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
