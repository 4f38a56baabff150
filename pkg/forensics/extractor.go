package forensics

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

// Extractor turns a failed test outcome into a failure artifact on disk. It
// runs inside the execution engine's reporter hook, so every step tolerates
// its own errors: nothing here may fail the test being reported.
type Extractor struct {
	log       logrus.FieldLogger
	workspace string
}

// NewExtractor creates an extractor bound to a workspace.
func NewExtractor(log logrus.FieldLogger, workspace string) *Extractor {
	return &Extractor{
		log:       log.WithField("component", "forensics"),
		workspace: workspace,
	}
}

// Process synthesizes and writes the failure artifact for a finished test.
// Passed and skipped outcomes are ignored. The returned artifact is nil when
// nothing was written.
func (e *Extractor) Process(outcome *TestOutcome) (*Artifact, error) {
	if !outcome.Failed() {
		return nil, nil
	}

	identity, bundleDir := e.resolveIdentity(outcome)

	if err := fsutil.EnsureDir(bundleDir); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	artifact := e.buildArtifact(outcome, identity)

	path := filepath.Join(bundleDir, identity+"_failure.json")
	if err := fsutil.WriteJSONAtomic(path, artifact); err != nil {
		return nil, fmt.Errorf("writing failure artifact: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"test":     identity,
		"artifact": path,
	}).Info("Failure artifact written")

	return artifact, nil
}

// resolveIdentity derives the test identity and bundle directory. The
// test's own source location is authoritative when present; otherwise both
// fall back to the title-slug convention.
func (e *Extractor) resolveIdentity(outcome *TestOutcome) (identity, bundleDir string) {
	if outcome.File != "" {
		base := filepath.Base(outcome.File)
		if strings.HasSuffix(base, bundle.SpecSuffix) {
			identity = strings.TrimSuffix(base, bundle.SpecSuffix)
			bundleDir = filepath.Dir(e.absPath(outcome.File))

			return identity, bundleDir
		}
	}

	identity = bundle.Slug(outcome.Title)

	return identity, bundle.Dir(e.workspace, identity)
}

func (e *Extractor) buildArtifact(outcome *TestOutcome, identity string) *Artifact {
	message := CleanText(outcome.Message)
	stack := CleanText(outcome.Stack)

	artifact := &Artifact{
		TestName:   identity,
		FullTitle:  outcome.FullTitle,
		Status:     outcome.Status,
		Duration:   outcome.Duration,
		RetryCount: outcome.Retry,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Error: ErrorDetail{
			Message: message,
			Stack:   stack,
		},
	}

	if artifact.FullTitle == "" {
		artifact.FullTitle = outcome.Title
	}

	if outcome.File != "" && outcome.Line > 0 {
		artifact.Error.Location = &Location{
			File:   outcome.File,
			Line:   outcome.Line,
			Column: outcome.Column,
		}
	} else if loc := ParseStackLocation(stack); loc != nil {
		artifact.Error.Location = loc
	}

	for _, att := range outcome.Attachments {
		switch {
		case att.Name == "screenshot" || strings.HasSuffix(att.Path, ".png"):
			artifact.Screenshot = e.relPath(att.Path)
		case att.Name == "trace" || strings.HasSuffix(att.Path, ".zip"):
			artifact.Trace = e.relPath(att.Path)
		}
	}

	artifact.FailedLocator = GuessLocator(message, stack)
	artifact.AssertionFailure = GuessAssertion(message, stack)

	return artifact
}

func (e *Extractor) absPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(e.workspace, p)
}

// relPath maps attachment paths under the workspace root to
// workspace-relative form. Paths outside the workspace are kept as-is.
func (e *Extractor) relPath(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}

	rel, err := filepath.Rel(e.workspace, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}

	return rel
}

// LoadArtifact reads the failure artifact for a test identity. The extractor
// writes the artifact next to the spec file, so every supported spec layout
// is checked. A missing artifact yields (nil, nil).
func LoadArtifact(workspace, testName string) (*Artifact, error) {
	for _, path := range bundle.ArtifactCandidates(workspace, bundle.Slug(testName)) {
		if !fsutil.FileExists(path) {
			continue
		}

		var artifact Artifact
		if err := fsutil.ReadJSON(path, &artifact); err != nil {
			return nil, fmt.Errorf("reading failure artifact: %w", err)
		}

		return &artifact, nil
	}

	return nil, nil
}
