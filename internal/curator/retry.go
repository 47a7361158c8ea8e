// Copyright (c) 2026 Classgram Labs
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

package curator

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy retries an operation on transient failures. Zero values
// are filled in by Do, so the zero policy behaves like DefaultRetry.
type RetryPolicy struct {
	// MaxAttempts counts the first try plus retries.
	MaxAttempts int

	// Backoff returns the wait before retry number attempt (1-based).
	Backoff func(attempt int) time.Duration

	// Retryable decides which errors warrant another attempt.
	Retryable func(error) bool

	// Sleep is injectable for tests. Defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetry matches the model backend's load-shedding behavior:
// three attempts, waiting 2s then 4s, retrying only on overload.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
		Retryable: func(err error) bool {
			return errors.Is(err, ErrBackendOverloaded)
		},
	}
}

// Do runs fn until it succeeds, fails non-retryably, or attempts run
// out. The last error is returned unwrapped so callers can still match
// sentinels.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	defaults := DefaultRetry()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = defaults.Backoff
	}
	if p.Retryable == nil {
		p.Retryable = defaults.Retryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Backoff(attempt)
		slog.Warn("transient failure, backing off",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		if serr := p.Sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
