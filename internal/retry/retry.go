// Copyright 2021 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry bounds the exponential-backoff retry policy described for
// IOError and SubmissionFailed(5xx) in the error taxonomy: at most three
// attempts, surfaced immediately otherwise.
package retry

import (
	"context"
	"time"

	"github.com/buildkite/roko"
)

// MaxAttempts is the bound spec'd for retryable error kinds.
const MaxAttempts = 3

// Do runs fn up to MaxAttempts times with exponential backoff, retrying
// only while shouldRetry(err) is true. The first non-retryable error, or
// the error from the final attempt, is returned.
func Do(ctx context.Context, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	r := roko.NewRetrier(
		roko.WithMaxAttempts(MaxAttempts),
		roko.WithStrategy(roko.Exponential(200*time.Millisecond, 2*time.Second)),
	)
	return r.DoWithContext(ctx, func(r *roko.Retrier) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !shouldRetry(err) {
			r.Break()
		}
		return err
	})
}
