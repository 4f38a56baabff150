package locator

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"github.com/testpilot-dev/testpilot/pkg/forensics"
)

// noteMaxLen bounds the error excerpt carried into a locator note.
const noteMaxLen = 200

// Feedback downgrades a locator's health when a failure artifact names it.
type Feedback struct {
	log logrus.FieldLogger
}

// NewFeedback creates the locator-health feedback step.
func NewFeedback(log logrus.FieldLogger) *Feedback {
	return &Feedback{
		log: log.WithField("component", "locator-feedback"),
	}
}

// OnTestFailed loads the failure artifact for the test, and when it names a
// locator key, marks that locator failing with a note built from the
// truncated error message and the failing test's identity. Silently no-ops
// when no artifact or no locator exists.
func (f *Feedback) OnTestFailed(workspace, testName string) error {
	artifact, err := forensics.LoadArtifact(workspace, testName)
	if err != nil {
		return err
	}

	if artifact == nil || artifact.FailedLocator == nil || artifact.FailedLocator.LocatorKey == "" {
		return nil
	}

	identity := bundle.Slug(testName)
	note := fmt.Sprintf("%s (test: %s)",
		forensics.Truncate(artifact.Error.Message, noteMaxLen), identity)

	registry := NewRegistry(f.log, workspace)
	if err := registry.MarkFailing(artifact.FailedLocator.LocatorKey, note, identity); err != nil {
		return fmt.Errorf("updating locator status: %w", err)
	}

	f.log.WithFields(logrus.Fields{
		"locator": artifact.FailedLocator.LocatorKey,
		"test":    identity,
	}).Info("Locator marked failing")

	return nil
}
