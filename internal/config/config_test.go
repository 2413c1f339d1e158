package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uros-5/tinymist/internal/config"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := config.Load(map[string]any{
		"root":    "/work",
		"workers": 8,
	})
	require.NoError(t, err)

	assert.Equal(t, "/work", cfg.Root)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, ".typ", cfg.DefaultExtension)
	assert.True(t, cfg.IsLatestOnly("hover"))
	assert.False(t, cfg.IsLatestOnly("diagnostics"))
}

func TestLoadNil(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := config.LoadFromJSON(strings.NewReader(`{"latest_only": ["completion"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"completion"}, cfg.LatestOnly)

	_, err = config.LoadFromJSON(strings.NewReader(`{"workers": 0}`))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tinymist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: docs\nimport_depth_limit: 3\nfile_extensions: [.typ, .typst]\n"), 0o644))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "docs", cfg.Root)
	assert.Equal(t, 3, cfg.ImportDepthLimit)
	assert.True(t, cfg.HasExtension(".typst"))

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsolated(t *testing.T) {
	a := config.Default()
	a.LatestOnly[0] = "changed"
	assert.Equal(t, "hover", config.Default().LatestOnly[0])
}
