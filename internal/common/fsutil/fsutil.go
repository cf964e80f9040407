package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/data/labs.csv
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// EnsureDir creates the directory (and parents) if it does not exist.
func EnsureDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("empty directory path")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// Fingerprint returns the hex SHA-256 of a file's contents. Runs record it
// so a report can be tied back to the exact dataset it was fitted on.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
