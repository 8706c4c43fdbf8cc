// Package backend selects and builds the persistence layer behind the
// planner so the binaries do not care which store serves them.
package backend

import (
	"context"

	"github.com/kevindbotelho/fin-planner/internal/services"
)

// CleanupFunc releases backend resources on shutdown.
type CleanupFunc func() error

// Result is a ready store plus its optional cleanup.
type Result struct {
	Store   services.Store
	Cleanup CleanupFunc
}

// Factory builds stores from configuration.
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds what the factory needs per backend type.
type Config struct {
	Type         Type
	SQLiteDBPath string
}

// Type names a supported persistence backend.
type Type string

const (
	SQLite Type = "sqlite"
	Memory Type = "memory"
)

func (t Type) String() string {
	return string(t)
}

func (t Type) IsValid() bool {
	switch t {
	case SQLite, Memory:
		return true
	default:
		return false
	}
}
