package bundle

import (
	"os"
	"path/filepath"
	"time"

	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

// Meta is the per-test metadata record, keyed by test identity rather than
// by run. It tracks the most recent outcome across the test's whole history.
type Meta struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	LastRunAt  time.Time `json:"lastRunAt"`
	LastStatus string    `json:"lastStatus"`
	LastRunID  string    `json:"lastRunId"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MetaPath returns the metadata file for a test identity.
func MetaPath(workspace, slug string) string {
	return filepath.Join(MetaDir(workspace), slug+".json")
}

// LoadMeta reads the metadata record for a test identity. A missing file
// returns (nil, nil).
func LoadMeta(workspace, slug string) (*Meta, error) {
	path := MetaPath(workspace, slug)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var m Meta
	if err := fsutil.ReadJSON(path, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordRun updates the per-test metadata after a finished run, creating
// the record on first reference.
func RecordRun(workspace, testName, status, runID string, at time.Time) (*Meta, error) {
	slug := Slug(testName)

	m, err := LoadMeta(workspace, slug)
	if err != nil {
		return nil, err
	}

	if m == nil {
		m = &Meta{
			Name:      testName,
			CreatedAt: at,
		}
	}

	m.LastRunAt = at
	m.LastStatus = status
	m.LastRunID = runID
	m.UpdatedAt = at

	if err := fsutil.WriteJSONAtomic(MetaPath(workspace, slug), m); err != nil {
		return nil, err
	}

	return m, nil
}
