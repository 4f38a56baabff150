package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime(t *testing.T, s string) time.Time {
	t.Helper()

	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)

	return ts
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "simple title",
			title: "Login Flow",
			want:  "login-flow",
		},
		{
			name:  "punctuation stripped",
			title: "Create P.O. & verify totals!",
			want:  "create-po-verify-totals",
		},
		{
			name:  "truncated to five tokens",
			title: "user can create a purchase order end to end",
			want:  "user-can-create-a-purchase",
		},
		{
			name:  "idempotent on derived slug",
			title: "login-flow",
			want:  "login-flow",
		},
		{
			name:  "mixed case and digits",
			title: "Checkout V2 smoke",
			want:  "checkout-v2-smoke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.title))
		})
	}
}

func writeSpec(t *testing.T, ws, rel string) {
	t.Helper()

	path := filepath.Join(ws, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("// spec"), 0o644))
}

func TestResolveSpec(t *testing.T) {
	t.Run("current bundle layout wins", func(t *testing.T) {
		ws := t.TempDir()
		writeSpec(t, ws, "tests/login-flow/login-flow.spec.ts")
		writeSpec(t, ws, "tests/login-flow.spec.ts")

		got, err := ResolveSpec(ws, "Login Flow")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("tests", "login-flow", "login-flow.spec.ts"), got)
	})

	t.Run("legacy flat layout", func(t *testing.T) {
		ws := t.TempDir()
		writeSpec(t, ws, "tests/login-flow.spec.ts")

		got, err := ResolveSpec(ws, "Login Flow")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("tests", "login-flow.spec.ts"), got)
	})

	t.Run("legacy e2e layout", func(t *testing.T) {
		ws := t.TempDir()
		writeSpec(t, ws, "e2e/login-flow.spec.ts")

		got, err := ResolveSpec(ws, "Login Flow")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("e2e", "login-flow.spec.ts"), got)
	})

	t.Run("explicit relative spec path", func(t *testing.T) {
		ws := t.TempDir()
		writeSpec(t, ws, "tests/custom/anything.spec.ts")

		got, err := ResolveSpec(ws, "tests/custom/anything.spec.ts")
		require.NoError(t, err)
		assert.Equal(t, "tests/custom/anything.spec.ts", got)
	})

	t.Run("unresolvable names the identity", func(t *testing.T) {
		ws := t.TempDir()

		_, err := ResolveSpec(ws, "ghost-test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ghost-test")
	})

	t.Run("idempotent for unchanged filesystem", func(t *testing.T) {
		ws := t.TempDir()
		writeSpec(t, ws, "tests/login-flow/login-flow.spec.ts")

		first, err := ResolveSpec(ws, "Login Flow")
		require.NoError(t, err)

		second, err := ResolveSpec(ws, "Login Flow")
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestRecordRun(t *testing.T) {
	ws := t.TempDir()

	first, err := RecordRun(ws, "Login Flow", "failed", "run-1", testTime(t, "2026-08-26T10:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, "Login Flow", first.Name)
	assert.Equal(t, "failed", first.LastStatus)
	assert.Equal(t, "run-1", first.LastRunID)
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)

	second, err := RecordRun(ws, "Login Flow", "passed", "run-2", testTime(t, "2026-08-26T11:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "passed", second.LastStatus)
	assert.Equal(t, "run-2", second.LastRunID)

	loaded, err := LoadMeta(ws, Slug("Login Flow"))
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "run-2", loaded.LastRunID)
}

func TestLoadMetaMissing(t *testing.T) {
	m, err := LoadMeta(t.TempDir(), "never-ran")
	require.NoError(t, err)
	assert.Nil(t, m)
}
