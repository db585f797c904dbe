// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagestore

import (
	"context"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// Environment variables read by NewMinioFromEnv.
const (
	MinioAccessKeyEnv = "MINIO_ACCESS_KEY"
	MinioSecretKeyEnv = "MINIO_SECRET_KEY"
	MinioInsecureEnv  = "MINIO_INSECURE"
)

// Minio is a Store backed by a bucket of a MinIO (or any S3-compatible) server.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ Store = (*Minio)(nil)

// NewMinio creates a Store for the images under prefix in the bucket.
func NewMinio(client *minio.Client, bucket, prefix string) *Minio {
	return &Minio{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// NewMinioFromEnv creates a Minio Store connecting to endpoint ("host:port") with the credentials in
// the environment variables MINIO_ACCESS_KEY and MINIO_SECRET_KEY. TLS is used unless MINIO_INSECURE is set.
//
// No connection is made until the store is used.
func NewMinioFromEnv(endpoint, bucket, prefix string) (*Minio, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv(MinioAccessKeyEnv), os.Getenv(MinioSecretKeyEnv), ""),
		Secure: os.Getenv(MinioInsecureEnv) == "",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create MinIO client for %q", endpoint)
	}
	return NewMinio(client, bucket, prefix), nil
}

func (s *Minio) key(name string) string {
	return path.Join(s.prefix, name)
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Open implements Store.
func (s *Minio) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err == nil {
		// GetObject is lazy: Stat forces the request, so missing objects are reported here.
		_, err = obj.Stat()
		if err != nil {
			_ = obj.Close()
		}
	}
	if err != nil {
		if isMinioNotFound(err) {
			return nil, errors.Wrapf(ErrNotFound, "minio %s/%s", s.bucket, key)
		}
		return nil, errors.Wrapf(err, "failed to get minio %s/%s", s.bucket, key)
	}
	return obj, nil
}

// List implements Store. Only objects directly under the prefix are listed.
func (s *Minio) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, "failed to list minio %s/%s", s.bucket, prefix)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name != "" && !strings.HasSuffix(name, "/") {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
