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

// Package imagestore persists image attachments to S3-compatible object
// storage under tenant-scoped keys. When the store cannot be reached the
// caller-facing StoreOrFallback degrades to an inline data: URL instead
// of losing the image.
package imagestore

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classgram/ingestion/internal/models"
)

// ErrUnavailable is returned when the backing object store cannot be
// reached or the bucket cannot be provisioned. Callers fall back to an
// inline-encoded representation rather than dropping the image.
var ErrUnavailable = errors.New("object store unavailable")

// Uploader writes one object with no-clobber semantics. Implemented by
// the S3 client wrapper; mocked in tests.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Store derives tenant-scoped keys and uploads attachment bytes,
// returning publicly dereferenceable URLs.
type Store struct {
	uploader  Uploader
	bucket    string
	publicURL string

	// now is injectable for deterministic keys in tests.
	now func() time.Time
}

// New creates an attachment store over the given uploader. publicBaseURL
// is the prefix under which stored objects are reachable.
func New(uploader Uploader, bucket, publicBaseURL string) *Store {
	return &Store{
		uploader:  uploader,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicBaseURL, "/"),
		now:       time.Now,
	}
}

// Upload writes the attachment bytes under a tenant-scoped,
// content-hashed key and returns the public URL. Fails with
// ErrUnavailable (wrapping the cause) when the store cannot be reached.
func (s *Store) Upload(ctx context.Context, data []byte, contentType string, tenantID uuid.UUID) (string, error) {
	key := s.objectKey(data, contentType, tenantID)

	if err := s.uploader.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}

	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, key), nil
}

// StoreOrFallback uploads one attachment, folding a store outage into an
// inline-encoded reference. It never returns an error — a failed upload
// degrades that single attachment, not the enclosing ingestion.
func (s *Store) StoreOrFallback(ctx context.Context, data []byte, contentType string, tenantID uuid.UUID) models.ImageRef {
	url, err := s.Upload(ctx, data, contentType, tenantID)
	if err != nil {
		slog.Warn("attachment upload failed, storing inline",
			"tenant_id", tenantID,
			"content_type", contentType,
			"size", len(data),
			"error", err,
		)
		return models.InlineImageRef(data, contentType)
	}

	return models.ImageRef{URL: url, ContentType: contentType}
}

// objectKey builds tenant/unixmilli-md5hex.ext. The timestamp prefix
// keeps identical images re-sent on different days from colliding.
func (s *Store) objectKey(data []byte, contentType string, tenantID uuid.UUID) string {
	return fmt.Sprintf("%s/%d-%x.%s",
		tenantID, s.now().UnixMilli(), md5.Sum(data), extensionFor(contentType))
}

func extensionFor(contentType string) string {
	_, ext, ok := strings.Cut(contentType, "/")
	if !ok || ext == "" {
		return "jpg"
	}
	return ext
}
