package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/steveyegge/jirasync/internal/jira/db"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
)

// openStore opens the configured store and creates its tables if needed.
// The caller must close it.
func openStore(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", cfg.Store.Path, err)
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return database, nil
}

// newSyncer builds a syncer over store from the loaded config.
func newSyncer(store jirasync.Store, observer jirasync.Observer, logger *log.Logger) jirasync.Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	remote := cfg.Remote()
	remote.Logger = logger
	return jirasync.New(store, jirasync.Options{
		Remote:          remote,
		WalkRetries:     cfg.Sync.WalkRetries,
		IngestChangelog: cfg.Sync.IngestChangelog,
		Observer:        observer,
		Logger:          logger,
	})
}
