package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/clubhouse/internal/config"
	"github.com/jmcleod/clubhouse/storage"
	bboltstorage "github.com/jmcleod/clubhouse/storage/bbolt"
	"github.com/jmcleod/clubhouse/storage/memory"
	"github.com/jmcleod/clubhouse/storage/postgres"
)

// boltLockTimeout bounds the wait for the bolt file lock, which a running
// server holds.
const boltLockTimeout = 5 * time.Second

// openRepository opens the configured storage backend. The returned func
// releases it.
func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewRepository(), func() {}, nil
	case config.BackendPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, repo.Close, nil
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "clubhouse.db"), &bbolt.Options{Timeout: boltLockTimeout})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	}
}
