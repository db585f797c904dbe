// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagestore gives access to the ion image files, wherever they are stored: a local directory,
// an S3 bucket, a MinIO (or other S3-compatible) server, or memory (for tests).
//
// Use New to create a Store from a location string, and Loader to read, decode and resize images.
package imagestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/coloc/internal/fsutil"
	"github.com/gomlx/coloc/pkg/errs"
	"github.com/gomlx/coloc/pkg/pairs"
	"github.com/pkg/errors"
)

// ErrNotFound is returned (wrapped) when an image doesn't exist. It is os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of image files.
// Implementations must be safe for concurrent use.
type Store interface {
	// Open the named image for reading. Errors for missing images must satisfy errors.Is(err, ErrNotFound).
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List the names of all images, sorted.
	List(ctx context.Context) ([]string, error)
}

// New creates a Store for the location:
//
//   - "s3://bucket/prefix": an S3 bucket, configured from the environment (see NewS3FromEnv).
//   - "minio://host:port/bucket/prefix": a MinIO server, configured from the environment (see NewMinioFromEnv).
//   - "mem://": an empty in-memory store.
//   - Anything else is taken as a local directory, with "~" expanded to the home directory.
func New(ctx context.Context, location string) (Store, error) {
	scheme, rest, found := strings.Cut(location, "://")
	if !found {
		dir, err := fsutil.ExpandHome(location)
		if err != nil {
			return nil, err
		}
		return NewLocal(dir), nil
	}
	switch scheme {
	case "s3":
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, errs.InvalidConfigf("image store %q has no bucket", location)
		}
		return NewS3FromEnv(ctx, bucket, prefix)
	case "minio":
		endpoint, bucketAndPrefix, _ := strings.Cut(rest, "/")
		bucket, prefix, _ := strings.Cut(bucketAndPrefix, "/")
		if endpoint == "" || bucket == "" {
			return nil, errs.InvalidConfigf("image store %q must be in the form minio://host:port/bucket[/prefix]", location)
		}
		return NewMinioFromEnv(endpoint, bucket, prefix)
	case "mem":
		return NewMemory(), nil
	}
	return nil, errs.InvalidConfigf("unknown image store scheme %q in %q", scheme, location)
}

// ScanImageNames lists the images in the store with the given extension (without the dot).
func ScanImageNames(ctx context.Context, store Store, ext string) ([]string, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "while scanning image names")
	}
	return pairs.FilterImageNames(names, ext), nil
}

// Local is a Store backed by a local directory.
type Local struct {
	root string
}

var _ Store = (*Local)(nil)

// NewLocal creates a Store reading images from the directory root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Root returns the directory of the store.
func (s *Local) Root() string { return s.root }

// Open implements Store.
func (s *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

// List implements Store. Subdirectories are not listed.
func (s *Local) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list images in %q", s.root)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Memory is a Store holding the image files in memory.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Put stores the contents of an image file, replacing any previous one with the same name.
func (s *Memory) Put(name string, contents []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = slices.Clone(contents)
}

// Open implements Store.
func (s *Memory) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contents, found := s.files[name]
	if !found {
		return nil, errors.Wrapf(ErrNotFound, "image %q", name)
	}
	return io.NopCloser(bytes.NewReader(contents)), nil
}

// List implements Store.
func (s *Memory) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
