package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/gosynchro/synchro/internal/config"
	"github.com/gosynchro/synchro/internal/consumer"
	"github.com/gosynchro/synchro/internal/datastore"
	"github.com/gosynchro/synchro/internal/item"
	"github.com/gosynchro/synchro/internal/registry"
	"github.com/gosynchro/synchro/internal/set"
)

var (
	mirrorStorePath string
	mirrorClass     string
	mirrorPath      string
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Run a consumer engine against a producer's published state",
	Long: `mirror polls a producer's keys out of the shared JSON file datastore and
keeps a local Set converged with it, logging every added/removed/changed
event as it lands.

Examples:
  synchro mirror --path animals
  synchro mirror --store /tmp/zoo.json --path test.animals --config synchro.yaml`,
	RunE: runMirror,
}

func init() {
	mirrorCmd.Flags().StringVar(&mirrorStorePath, "store", "synchro-store.json", "path of the JSON file datastore")
	mirrorCmd.Flags().StringVar(&mirrorClass, "class", "Animal", "managed class name")
	mirrorCmd.Flags().StringVar(&mirrorPath, "path", "animals", "producer key prefix to consume")
}

func runMirror(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	observed := cfg.ObservedProperties
	if len(observed) == 0 {
		observed = []string{"name", "color", "legs"}
	}

	c, err := consumer.New(consumer.Config{
		Datastore:       datastore.NewFileStore(mirrorStorePath),
		Path:            mirrorPath,
		Record:          registry.Simple(mirrorClass, observed),
		Pulsar:          cfg.Pulsar,
		RunloopInterval: cfg.RunloopInterval,
		BackoffSchedule: cfg.BackoffSchedule,
		OnPersistentConfigError: func(n int) {
			log.Printf("mirror: producer config mismatch, attempt %d (still retrying)", n)
		},
	})
	if err != nil {
		return err
	}

	c.Set().OnChanged(func(eventName string, it *item.Item, ch *item.Change) {
		if ch == nil {
			log.Printf("mirror: %s %s", eventName, it.ID())
			return
		}
		log.Printf("mirror: %s %s.%s: %s -> %s", eventName, it.ID(), ch.Name, ch.OldValue.Encode(), ch.NewValue.Encode())
	})

	if err := c.Start(cmd.Context()); err != nil {
		return err
	}

	fmt.Printf("mirroring %q (pulsar %s) from %s\n", mirrorPath, cfg.Pulsar, mirrorStorePath)

	<-cmd.Context().Done()
	if err := c.Stop(); err != nil {
		return err
	}
	logMirrorSummary(c.Set())
	return nil
}

func logMirrorSummary(s *set.Set) {
	items := s.All()
	log.Printf("mirror: stopped with %d items, checksum %s", len(items), s.Checksum())
}
