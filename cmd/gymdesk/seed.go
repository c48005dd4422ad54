package main

import (
	"context"
	"fmt"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/seed"
	"github.com/spf13/cobra"
)

var (
	seedFile   string
	seedDryRun bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load site content from a YAML catalog",
	Long: `Load settings, classes, trainers, programs, pricing plans and the weekly
schedule from a YAML catalog. Sections whose tables already hold data are
skipped; settings are always upserted.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "catalog file (required)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "validate the catalog without writing")

	_ = seedCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	catalog, err := seed.Load(seedFile)
	if err != nil {
		return err
	}

	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("invalid catalog: %w", err)
	}

	if seedDryRun {
		log.WithField("file", seedFile).Info("Catalog is valid, no changes made")

		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	counts, err := seed.NewSeeder(log, st).Apply(ctx, catalog)
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	log.WithField("settings", counts.Settings).
		WithField("classes", counts.Classes).
		WithField("trainers", counts.Trainers).
		WithField("programs", counts.Programs).
		WithField("pricing", counts.Pricing).
		WithField("schedule", counts.Schedule).
		Info("Seed complete")

	return nil
}
