// Package runindex persists the per-workspace run ledger behind a narrow
// document-store interface so the storage backend can be swapped without
// touching orchestration logic.
package runindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/config"
)

// ErrNotFound is returned by ReadOne when no record exists for the run ID.
var ErrNotFound = errors.New("run not found")

// Store provides persistence for run records. ReadAll returns records
// sorted by StartedAt descending; Upsert is keyed by RunID.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	Upsert(ctx context.Context, rec *RunRecord) error
	ReadAll(ctx context.Context) ([]RunRecord, error)
	ReadOne(ctx context.Context, runID string) (*RunRecord, error)
}

// NewStore creates a run-index store for the workspace using the configured
// backend driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.IndexConfig,
	workspace string,
) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return newFileStore(log, workspace), nil
	case "sqlite", "postgres":
		return newDBStore(log, cfg, workspace), nil
	default:
		return nil, fmt.Errorf("unsupported index driver: %s", cfg.Driver)
	}
}
