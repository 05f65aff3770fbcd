package main

import (
	"context"
	"fmt"

	"github.com/llvm/lnt/pkg/api/store"
	"github.com/llvm/lnt/pkg/config"
)

// openStore connects to the named database and migrates its suites.
func openStore(
	ctx context.Context, cfg *config.Config, name string,
) (store.Store, error) {
	dbCfg, err := cfg.Database(name)
	if err != nil {
		return nil, err
	}

	suites, err := cfg.DatabaseSuites(name)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", name, err)
	}

	st := store.NewStore(log.WithField("database", name), dbCfg, suites)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting database %s: %w", name, err)
	}

	return st, nil
}
