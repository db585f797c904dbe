// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagestore

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimited wraps a Store limiting the rate of images opened, typically to stay within the request
// quotas of a remote store when many workers load batches in parallel.
type RateLimited struct {
	Store
	limiter *rate.Limiter
}

// NewRateLimited limits store to perSecond opens per second, with bursts of up to burst opens.
// If perSecond <= 0 the rate is unlimited.
func NewRateLimited(store Store, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{Store: store, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

// Open implements Store, waiting for the limiter first.
func (s *RateLimited) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "rate limiter while opening %q", name)
	}
	return s.Store.Open(ctx, name)
}
