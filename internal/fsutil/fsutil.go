// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil resolves the data, manifest and output paths given on the command line or in config files.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Exists returns whether the file or directory exists, or an error if the filesystem failed to tell.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}

// ExpandHome replaces a leading "~" or "~user" by the corresponding home directory.
// Paths not starting with "~" are returned unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	rest := path[1:]
	userName, tail, _ := strings.Cut(rest, string(filepath.Separator))
	var (
		usr *user.User
		err error
	)
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve home directory in %q", path)
	}
	return filepath.Join(usr.HomeDir, tail), nil
}

// Resolve expands "~" in path and, if the result is relative and base is not empty, joins it under base.
func Resolve(base, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	if base == "" || filepath.IsAbs(path) {
		return path, nil
	}
	base, err = ExpandHome(base)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, path), nil
}

// EnsureParentDir creates the directory that will hold the file at path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", dir)
	}
	return nil
}
