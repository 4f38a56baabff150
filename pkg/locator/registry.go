// Package locator maintains the shared locator-health registry and the
// failure-feedback path that downgrades locators named by failure artifacts.
package locator

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

// State is the health state of a locator.
type State string

const (
	StateHealthy  State = "healthy"
	StateWarning  State = "warning"
	StateFailing  State = "failing"
	StateUntested State = "untested"
)

// Status is the persisted health record for a single locator, keyed by
// locator key in the registry file.
type Status struct {
	State     State     `json:"state"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
	LastTest  string    `json:"lastTest,omitempty"`
}

// Registry is the file-backed locator-health registry for a workspace.
// Mutations are whole-file read-modify-write under the single-writer
// assumption.
type Registry struct {
	log  logrus.FieldLogger
	path string
	mu   sync.Mutex
}

// NewRegistry creates a registry bound to the workspace's locator file.
func NewRegistry(log logrus.FieldLogger, workspace string) *Registry {
	return &Registry{
		log:  log.WithField("component", "locator-registry"),
		path: bundle.LocatorRegistryPath(workspace),
	}
}

// All returns every locator status keyed by locator key.
func (r *Registry) All() (map[string]Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load()
}

// Get returns the status for key, or nil when the locator is unknown.
func (r *Registry) Get(key string) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses, err := r.load()
	if err != nil {
		return nil, err
	}

	status, ok := statuses[key]
	if !ok {
		return nil, nil
	}

	return &status, nil
}

// MarkFailing sets the locator's state to failing, creating the entry on
// first reference. This pipeline only ever downgrades; promotion back to
// healthy happens elsewhere.
func (r *Registry) MarkFailing(key, note, testName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses, err := r.load()
	if err != nil {
		return err
	}

	statuses[key] = Status{
		State:     StateFailing,
		Note:      note,
		UpdatedAt: time.Now().UTC(),
		LastTest:  testName,
	}

	return fsutil.WriteJSONAtomic(r.path, statuses)
}

// load reads the registry file. A missing file yields an empty registry.
func (r *Registry) load() (map[string]Status, error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return map[string]Status{}, nil
	}

	statuses := map[string]Status{}
	if err := fsutil.ReadJSON(r.path, &statuses); err != nil {
		return nil, err
	}

	return statuses, nil
}
