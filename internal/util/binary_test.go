package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestFindBinary(t *testing.T) {
	t.Run("configured path wins over everything", func(t *testing.T) {
		configured := writeExecutable(t, t.TempDir(), "my-ffmpeg", 0o755)
		env := writeExecutable(t, t.TempDir(), "env-ffmpeg", 0o755)
		t.Setenv("TEST_BINARY_PATH", env)

		path, err := FindBinary("ls", configured, "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, configured, path)
	})

	t.Run("configured path that is not executable is an error", func(t *testing.T) {
		configured := writeExecutable(t, t.TempDir(), "plain", 0o644)

		path, err := FindBinary("ls", configured, "")
		require.Error(t, err)
		assert.Empty(t, path)
		assert.Contains(t, err.Error(), "not an executable")
	})

	t.Run("finds executable binary via environment variable", func(t *testing.T) {
		env := writeExecutable(t, t.TempDir(), "test-binary", 0o755)
		t.Setenv("TEST_BINARY_PATH", env)

		path, err := FindBinary("nonexistent-binary", "", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, env, path)
	})

	t.Run("env var takes priority over PATH", func(t *testing.T) {
		env := writeExecutable(t, t.TempDir(), "test-binary", 0o755)
		t.Setenv("TEST_BINARY_PATH", env)

		path, err := FindBinary("ls", "", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.Equal(t, env, path)
	})

	t.Run("finds binary in ./bin", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "bin"), 0o755))
		writeExecutable(t, filepath.Join(dir, "bin"), "abrhls-test-tool", 0o755)
		t.Chdir(dir)

		path, err := FindBinary("abrhls-test-tool", "", "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("bin", "abrhls-test-tool"), path)
	})

	t.Run("finds binary on PATH when no env var", func(t *testing.T) {
		path, err := FindBinary("ls", "", "")
		require.NoError(t, err)
		assert.NotEmpty(t, path)
		assert.Contains(t, path, "ls")
	})

	t.Run("returns error when binary not found", func(t *testing.T) {
		path, err := FindBinary("definitely-nonexistent-binary-12345", "", "")
		assert.Error(t, err)
		assert.Empty(t, path)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ignores env var if file does not exist", func(t *testing.T) {
		t.Setenv("TEST_BINARY_PATH", "/nonexistent/path/to/binary")

		path, err := FindBinary("ls", "", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, "/nonexistent/path/to/binary", path)
		assert.Contains(t, path, "ls")
	})

	t.Run("ignores env var if file is not executable", func(t *testing.T) {
		plain := writeExecutable(t, t.TempDir(), "test-binary", 0o644)
		t.Setenv("TEST_BINARY_PATH", plain)

		path, err := FindBinary("ls", "", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, plain, path)
	})

	t.Run("ignores directory even if executable", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("TEST_BINARY_PATH", dir)

		path, err := FindBinary("ls", "", "TEST_BINARY_PATH")
		require.NoError(t, err)
		assert.NotEqual(t, dir, path)
	})
}
