package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gosynchro/synchro/internal/config"
	"github.com/gosynchro/synchro/internal/datastore"
	"github.com/gosynchro/synchro/internal/producer"
	"github.com/gosynchro/synchro/internal/registry"
	"github.com/gosynchro/synchro/internal/scalar"
	"github.com/gosynchro/synchro/internal/set"
)

var (
	serveStorePath string
	serveClass     string
	serveCount     int
	serveMutateGap time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a producer endpoint over a JSON-file-backed datastore",
	Long: `serve builds a producer-side Set, seeds it with demo items, and keeps
mutating them on a timer so a mirror process has live changes to follow.

Examples:
  synchro serve                                # defaults: ./synchro-store.json, class Animal
  synchro serve --store /tmp/zoo.json --count 5
  synchro serve --config synchro.yaml          # cadences, prefix, checksums from file`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveStorePath, "store", "synchro-store.json", "path of the JSON file datastore")
	serveCmd.Flags().StringVar(&serveClass, "class", "Animal", "managed class name")
	serveCmd.Flags().IntVar(&serveCount, "count", 3, "number of demo items to seed")
	serveCmd.Flags().DurationVar(&serveMutateGap, "mutate-every", 2*time.Second, "how often to mutate a demo item")
}

var demoNames = []string{"Rex", "Bella", "Milo", "Luna", "Otis", "Hazel"}
var demoColors = []string{"brown", "black", "white", "spotted", "grey"}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	observed := cfg.ObservedProperties
	if len(observed) == 0 {
		observed = []string{"name", "color", "legs"}
	}

	rec := registry.Simple(serveClass, observed)
	s := set.New(rec)

	ds := datastore.NewFileStore(serveStorePath)
	ep, err := producer.New(cmd.Context(), s, producer.Config{
		BasePath:                cfg.BasePath,
		NodeName:                cfg.NodeName,
		Cadences:                cfg.Cadences,
		AllowEmptyTransmissions: cfg.AllowEmptyTransmissions,
		IncludeChecksums:        cfg.IncludeChecksums,
		Datastore:               ds,
	})
	if err != nil {
		return err
	}
	if err := ep.Start(cmd.Context()); err != nil {
		return err
	}
	defer ep.Stop()

	for i := 0; i < serveCount; i++ {
		it := rec.New("")
		if err := it.SetProperty("name", scalar.String(demoNames[i%len(demoNames)])); err != nil {
			return err
		}
		if err := it.SetProperty("color", scalar.String(demoColors[i%len(demoColors)])); err != nil {
			return err
		}
		if err := it.SetProperty("legs", scalar.Number(4)); err != nil {
			return err
		}
		if err := s.Add(it); err != nil {
			return err
		}
	}

	fmt.Printf("serving %d %s items at prefix %q (store %s)\n", serveCount, serveClass, ep.Prefix(), serveStorePath)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return mutateLoop(ctx, s) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// mutateLoop keeps the demo set lively: every tick it flips one item's
// color and stamps a "mood" named value so both change shapes cross the
// wire.
func mutateLoop(ctx context.Context, s *set.Set) error {
	ticker := time.NewTicker(serveMutateGap)
	defer ticker.Stop()

	moods := []string{"happy", "sleepy", "hungry", "curious"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			items := s.All()
			if len(items) == 0 {
				continue
			}
			it := items[rand.Intn(len(items))]
			if err := it.SetProperty("color", scalar.String(demoColors[rand.Intn(len(demoColors))])); err != nil {
				return err
			}
			it.SetNamedNow("mood", scalar.String(moods[rand.Intn(len(moods))]))
		}
	}
}
