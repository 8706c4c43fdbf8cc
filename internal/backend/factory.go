package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kevindbotelho/fin-planner/internal/storage"
	"github.com/kevindbotelho/fin-planner/internal/storage/memory"
)

// DefaultFactory builds the stores this repository ships with.
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLite:
		return f.createSQLite(config)
	case Memory:
		return f.createMemory(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLite(config Config) (*Result, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize SQLite repository: %w", err)
	}

	f.logger.Info("initialized sqlite backend", "db_path", config.SQLiteDBPath)

	return &Result{
		Store:   repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemory(Config) (*Result, error) {
	store := memory.New()

	f.logger.Info("initialized memory backend")

	return &Result{Store: store}, nil
}
