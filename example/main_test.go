package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bbfft.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wasm: /opt/bb.wasm\ncircuit_size: 64\nworkers: 4\n"), 0o644))

	var file fileConfig
	require.NoError(t, loadConfig(path, &file))
	assert.Equal(t, "/opt/bb.wasm", file.WASM)

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "2"}))

	cfg := fileConfig{WASM: "barretenberg.wasm", CircuitSize: 4, Workers: 2}
	mergeConfig(cmd, &cfg, file)

	assert.Equal(t, "/opt/bb.wasm", cfg.WASM)
	assert.Equal(t, uint32(64), cfg.CircuitSize)
	// Explicit flag wins over the file.
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [1, 2"), 0o644))

	var file fileConfig
	assert.Error(t, loadConfig(path, &file))
}

func TestRunMissingModule(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--wasm", filepath.Join(t.TempDir(), "missing.wasm")})
	cmd.SetOut(os.Stderr)
	assert.Error(t, cmd.Execute())
}
