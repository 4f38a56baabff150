// Package bundle holds the workspace directory conventions shared by the
// orchestrator, the forensics hook, and the locator-health feedback: test
// identity slugs, bundle directory layout, spec path resolution, and the
// per-test metadata files.
package bundle

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/testpilot-dev/testpilot/pkg/fsutil"
)

const (
	// StateDirName is the workspace-local state directory.
	StateDirName = ".testpilot"

	// SpecSuffix is the file suffix of executable specs.
	SpecSuffix = ".spec.ts"

	// slugMaxTokens bounds how many title tokens make up a slug.
	slugMaxTokens = 5
)

// StateDir returns the workspace state directory.
func StateDir(workspace string) string {
	return filepath.Join(workspace, StateDirName)
}

// RunsDir returns the directory holding the run index and per-run artifacts.
func RunsDir(workspace string) string {
	return filepath.Join(StateDir(workspace), "runs")
}

// RunDir returns the stable, run-addressable artifact directory for a run.
func RunDir(workspace, runID string) string {
	return filepath.Join(RunsDir(workspace), runID)
}

// MetaDir returns the directory holding per-test metadata files.
func MetaDir(workspace string) string {
	return filepath.Join(StateDir(workspace), "meta")
}

// AuthDir returns the directory holding authentication snapshots.
func AuthDir(workspace string) string {
	return filepath.Join(StateDir(workspace), "auth")
}

// ScratchTraceDir returns the engine's scratch output directory for traces.
func ScratchTraceDir(workspace string) string {
	return filepath.Join(StateDir(workspace), "scratch", "test-results")
}

// ScratchResultsDir returns the engine's structured per-test results directory.
func ScratchResultsDir(workspace string) string {
	return filepath.Join(StateDir(workspace), "scratch", "results")
}

// LocatorRegistryPath returns the locator-health registry file.
func LocatorRegistryPath(workspace string) string {
	return filepath.Join(StateDir(workspace), "locators.json")
}

// EngineConfigPath returns the generated execution-engine configuration file.
func EngineConfigPath(workspace string) string {
	return filepath.Join(StateDir(workspace), "engine.config.json")
}

// ManifestPath returns the workspace dependency manifest.
func ManifestPath(workspace string) string {
	return filepath.Join(workspace, "manifest.json")
}

// Dir returns the bundle directory for a test identity.
func Dir(workspace, slug string) string {
	return filepath.Join(workspace, "tests", slug)
}

// ArtifactPath returns the failure artifact path for a test identity.
func ArtifactPath(workspace, slug string) string {
	return filepath.Join(Dir(workspace, slug), slug+"_failure.json")
}

// ArtifactCandidates returns the possible failure artifact paths for a test
// identity. The artifact sits next to the spec file, so each supported spec
// layout contributes one location, current bundle layout first.
func ArtifactCandidates(workspace, slug string) []string {
	name := slug + "_failure.json"

	return []string{
		filepath.Join(Dir(workspace, slug), name),
		filepath.Join(workspace, "tests", name),
		filepath.Join(workspace, "e2e", name),
	}
}

// Slug derives a test identity from a human-readable title: lowercase,
// non-alphanumerics stripped, first five whitespace-delimited tokens.
// Hyphens and underscores separate tokens so an already-derived slug maps
// to itself.
func Slug(title string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	if len(tokens) > slugMaxTokens {
		tokens = tokens[:slugMaxTokens]
	}

	return strings.Join(tokens, "-")
}

// ResolveSpec maps a logical test identity (or an explicit spec path) to a
// workspace-relative spec path. Identities are tried against the current
// bundle layout first, then the two legacy layouts. The resolution depends
// only on the filesystem state, so unchanged inputs resolve identically.
func ResolveSpec(workspace, nameOrPath string) (string, error) {
	// An explicit spec path wins when it exists.
	if strings.HasSuffix(nameOrPath, SpecSuffix) {
		if filepath.IsAbs(nameOrPath) {
			if fsutil.FileExists(nameOrPath) {
				rel, err := filepath.Rel(workspace, nameOrPath)
				if err != nil {
					return "", fmt.Errorf("spec path %s is outside workspace: %w", nameOrPath, err)
				}

				return rel, nil
			}
		} else if fsutil.FileExists(filepath.Join(workspace, nameOrPath)) {
			return nameOrPath, nil
		}
	}

	slug := Slug(nameOrPath)

	candidates := []string{
		filepath.Join("tests", slug, slug+SpecSuffix),
		filepath.Join("tests", slug+SpecSuffix),
		filepath.Join("e2e", slug+SpecSuffix),
	}

	for _, rel := range candidates {
		if fsutil.FileExists(filepath.Join(workspace, rel)) {
			return rel, nil
		}
	}

	return "", fmt.Errorf("no spec found for test %q (tried %s)", nameOrPath, strings.Join(candidates, ", "))
}
