package main

import (
	"context"
	"fmt"

	"github.com/llvm/lnt/pkg/config"
	"github.com/llvm/lnt/pkg/fixture"
	"github.com/spf13/cobra"
)

var (
	createDB    string
	createSuite string
)

var createInstanceCmd = &cobra.Command{
	Use:   "create-instance [FIXTURE.yaml...]",
	Short: "Create the database tables and load fixtures",
	Long: `Create the tables of every suite enabled on a database and load the
given fixture files into it. Each fixture is loaded in one transaction;
fixtures that name no suite are loaded into --suite.`,
	RunE: runCreateInstance,
}

func init() {
	rootCmd.AddCommand(createInstanceCmd)

	createInstanceCmd.Flags().StringVar(&createDB, "db", config.DefaultDatabaseName,
		"database to create")
	createInstanceCmd.Flags().StringVar(&createSuite, "suite", config.DefaultSuite,
		"suite for fixtures that do not name one")
}

func runCreateInstance(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	st, err := openStore(ctx, cfg, createDB)
	if err != nil {
		return err
	}
	defer func() { _ = st.Stop() }()

	loader := fixture.NewLoader(log, st)

	for _, path := range args {
		if err := loader.ApplyFile(ctx, path, createSuite); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}

	for _, s := range st.Suites() {
		counts, err := st.Count(ctx, s.Name)
		if err != nil {
			return err
		}

		log.WithField("database", createDB).
			WithField("suite", s.Name).
			WithField("machines", counts.Machines).
			WithField("runs", counts.Runs).
			WithField("samples", counts.Samples).
			Info("Instance ready")
	}

	return nil
}
