package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "tuner.toml")
	require.NoError(t, os.WriteFile(path, []byte("parallelism = 8\ncutoff_max = 64\nexecutable = \"./wrapper\"\n"), 0o644))
	t.Setenv("TUNER_CUTOFF_MAX", "128")
	t.Setenv("TUNER_STRICT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, 128.0, cfg.CutoffMax)
	assert.True(t, cfg.Strict)
	assert.Equal(t, "./wrapper", cfg.Executable)
	assert.Equal(t, Default().Challengers, cfg.Challengers)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".env", []byte("TUNER_CHALLENGERS=5\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TUNER_CHALLENGERS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Challengers)
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "tuner.toml")
	require.NoError(t, os.WriteFile(path, []byte("paralelism = 8\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	env := map[string]string{"TUNER_RETRIES": "many"}
	cfg := Default()
	err = cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	assert.ErrorContains(t, err, "TUNER_RETRIES")

	cfg = Default()
	cfg.Parallelism = 0
	assert.Error(t, cfg.Validate())
}
