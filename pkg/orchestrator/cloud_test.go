package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudMatcherSessionAndBuild(t *testing.T) {
	m := &cloudMatcher{}

	assert.Nil(t, m.Meta())

	m.Observe("[grid] sessionId: a1b2c3d4e5f6 created")
	m.Observe("[grid] buildId: build-4711")
	// Later identifiers never overwrite the first observation.
	m.Observe("[grid] sessionId: ffffffffffff reconnect")

	meta := m.Meta()
	require.NotNil(t, meta)
	assert.Equal(t, "a1b2c3d4e5f6", meta.SessionID)
	assert.Equal(t, "build-4711", meta.BuildID)
}

func TestCloudMatcherTunnelFailure(t *testing.T) {
	m := &cloudMatcher{}

	hint := m.Observe("ERROR: Could not connect to tunnel after 3 attempts")
	assert.NotEmpty(t, hint)
	assert.Contains(t, hint, "tunnel")

	assert.Empty(t, m.Observe("tests running on remote browser"))
}
