package workspace

import (
	"fmt"
	"os"

	"github.com/testpilot-dev/testpilot/pkg/bundle"
	"gopkg.in/yaml.v3"
)

// Manifest is the workspace dependency manifest. Workspaces created by older
// tool versions wrote YAML manifests, current ones write JSON; yaml.v3 reads
// both.
type Manifest struct {
	Name          string   `yaml:"name" json:"name"`
	Platform      string   `yaml:"platform" json:"platform"`
	EngineVersion string   `yaml:"engineVersion" json:"engineVersion"`
	Browsers      []string `yaml:"browsers" json:"browsers"`
}

// Complete reports whether the manifest pins an engine version and at least
// one browser runtime.
func (m *Manifest) Complete() bool {
	return m.EngineVersion != "" && len(m.Browsers) > 0
}

// LoadManifest reads the workspace manifest. A missing file yields
// (nil, nil) so callers can treat it as an incomplete workspace.
func LoadManifest(workspace string) (*Manifest, error) {
	data, err := os.ReadFile(bundle.ManifestPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	return &m, nil
}
