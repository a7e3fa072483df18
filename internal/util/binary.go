// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindBinary searches for an executable binary by name.
// Search order:
//  1. configured (an explicit path from the config file or a flag)
//  2. Environment variable (if envVar is non-empty and set)
//  3. ./name and ./bin/name (useful for development and bundled releases)
//  4. name on PATH (via exec.LookPath)
//
// An explicit configured path that is not executable is an error rather
// than a reason to keep looking.
func FindBinary(name, configured, envVar string) (string, error) {
	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("configured %s binary %q is not an executable file", name, configured)
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && isExecutable(envPath) {
			return envPath, nil
		}
	}

	for _, local := range []string{"./" + name, filepath.Join("bin", name)} {
		if isExecutable(local) {
			return local, nil
		}
	}

	// LookPath already verifies executability.
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
