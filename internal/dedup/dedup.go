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

// Package dedup provides delivery deduplication using Redis keys with
// TTL. Mail relays retry webhook deliveries on slow or failed
// responses, so the same message can arrive more than once; the filter
// keeps retries from producing duplicate stored messages. Checking and
// marking are separate operations: a token is marked only once its
// delivery has been fully processed, so a failed ingestion leaves the
// token unknown and the relay's retry is handled fresh.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen delivery token. Relay
	// retry schedules top out well under 8 hours, so 24h is safe.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "classgram:seen:"
)

// Filter tracks which delivery tokens have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A non-positive TTL
// falls back to DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// Seen reports whether the delivery token has already been processed.
func (f *Filter) Seen(ctx context.Context, token string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, token)

	n, err := f.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}

	return n > 0, nil
}

// Mark remembers the token for the configured TTL. Callers invoke it
// only after the delivery has been fully processed.
func (f *Filter) Mark(ctx context.Context, token string) error {
	key := fmt.Sprintf("%s%s", keyPrefix, token)

	if err := f.rdb.Set(ctx, key, 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}

	return nil
}
