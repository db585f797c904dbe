// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHome(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ExpandHome("~/data/coloc_gs.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "data", "coloc_gs.csv"), got)

	got, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)

	_, err = ExpandHome("~no_such_user_for_coloc_tests/x")
	require.Error(t, err)
}

func TestResolveAndExists(t *testing.T) {
	dir := t.TempDir()
	got, err := Resolve(dir, "Data/coloc_gs.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Data", "coloc_gs.csv"), got)

	got, err = Resolve(dir, "/elsewhere.csv")
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere.csv", got)

	exists, err := Exists(filepath.Join(dir, "Data"))
	require.NoError(t, err)
	assert.False(t, exists)

	target := filepath.Join(dir, "Data", "preds", "out.csv")
	require.NoError(t, EnsureParentDir(target))
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	exists, err = Exists(target)
	require.NoError(t, err)
	assert.True(t, exists)
}
