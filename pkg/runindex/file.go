package runindex

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

// fileStore persists the run index as a single JSON file per workspace.
// All mutations are whole-file read-modify-write operations relying on the
// single-writer assumption; the mutex serializes writers within a process.
type fileStore struct {
	log  logrus.FieldLogger
	path string
	mu   sync.Mutex
}

// Compile-time interface check.
var _ Store = (*fileStore)(nil)

func newFileStore(log logrus.FieldLogger, workspace string) *fileStore {
	return &fileStore{
		log:  log.WithField("component", "runindex"),
		path: filepath.Join(bundle.RunsDir(workspace), "index.json"),
	}
}

// Start ensures the index directory exists.
func (s *fileStore) Start(_ context.Context) error {
	return fsutil.EnsureDir(filepath.Dir(s.path))
}

// Stop is a no-op for the file-backed store.
func (s *fileStore) Stop() error {
	return nil
}

// Upsert inserts or replaces the record keyed by RunID and rewrites the
// index sorted by StartedAt descending.
func (s *fileStore) Upsert(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}

	replaced := false

	for i := range records {
		if records[i].RunID == rec.RunID {
			records[i] = *rec
			replaced = true

			break
		}
	}

	if !replaced {
		records = append(records, *rec)
	}

	sortByStartedAtDesc(records)

	return fsutil.WriteJSONAtomic(s.path, records)
}

// ReadAll returns all records sorted by StartedAt descending.
func (s *fileStore) ReadAll(_ context.Context) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	sortByStartedAtDesc(records)

	return records, nil
}

// ReadOne returns the record for runID or ErrNotFound.
func (s *fileStore) ReadOne(_ context.Context, runID string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	for i := range records {
		if records[i].RunID == runID {
			rec := records[i]

			return &rec, nil
		}
	}

	return nil, ErrNotFound
}

// load reads the index file. A missing file yields an empty index.
func (s *fileStore) load() ([]RunRecord, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return []RunRecord{}, nil
	}

	var records []RunRecord
	if err := fsutil.ReadJSON(s.path, &records); err != nil {
		return nil, err
	}

	return records, nil
}

func sortByStartedAtDesc(records []RunRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
}
