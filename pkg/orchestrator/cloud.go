package orchestrator

import (
	"regexp"
	"strings"
	"sync"

	"github.com/testpilot-dev/testpilot/pkg/runindex"
)

var (
	sessionIDRe = regexp.MustCompile(`(?i)session[ _-]?id["':=\s]+([A-Za-z0-9-]{8,})`)
	buildIDRe   = regexp.MustCompile(`(?i)build[ _-]?id["':=\s]+([A-Za-z0-9-]{4,})`)
)

// tunnelFailureSignatures are known grid-client log lines that mean the
// local tunnel never came up. They get a dedicated actionable error ahead of
// the raw line.
var tunnelFailureSignatures = []string{
	"could not connect to tunnel",
	"tunnel connection refused",
	"failed to establish tunnel",
}

// tunnelHint is the actionable message emitted for tunnel failures.
const tunnelHint = "Local tunnel to the remote grid failed. Start the tunnel client and check that outbound port 443 is open, then retry the run."

// cloudMatcher opportunistically recovers session/build identifiers from a
// cloud run's streamed output.
type cloudMatcher struct {
	mu   sync.Mutex
	meta runindex.CloudSessionMeta
}

// Observe inspects one streamed line. The returned hint is non-empty when
// the line matches a known tunnel-failure signature.
func (m *cloudMatcher) Observe(line string) (hint string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.meta.SessionID == "" {
		if sm := sessionIDRe.FindStringSubmatch(line); sm != nil {
			m.meta.SessionID = sm[1]
		}
	}

	if m.meta.BuildID == "" {
		if bm := buildIDRe.FindStringSubmatch(line); bm != nil {
			m.meta.BuildID = bm[1]
		}
	}

	lower := strings.ToLower(line)
	for _, sig := range tunnelFailureSignatures {
		if strings.Contains(lower, sig) {
			return tunnelHint
		}
	}

	return ""
}

// Meta returns the identifiers observed so far, or nil when none were seen.
func (m *cloudMatcher) Meta() *runindex.CloudSessionMeta {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.meta.SessionID == "" && m.meta.BuildID == "" {
		return nil
	}

	meta := m.meta

	return &meta
}
