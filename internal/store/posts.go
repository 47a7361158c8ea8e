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

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classgram/ingestion/internal/models"
)

// PostStore provides row operations on the generated_posts table.
// Posts are written only by the digest run and never mutated.
type PostStore struct {
	pool *pgxpool.Pool
}

// NewPostStore creates the post store and ensures its schema.
func NewPostStore(ctx context.Context, pool *pgxpool.Pool) (*PostStore, error) {
	s := &PostStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure posts schema: %w", err)
	}
	slog.Info("post store initialised")
	return s, nil
}

func (s *PostStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS generated_posts (
			id                 UUID PRIMARY KEY,
			tenant_id          UUID NOT NULL REFERENCES tenants(id),
			message_id         UUID NOT NULL REFERENCES messages(id),
			caption            TEXT NOT NULL,
			image_url          TEXT NOT NULL,
			image_content_type TEXT NOT NULL DEFAULT '',
			image_inline       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_posts_tenant_created
			ON generated_posts(tenant_id, created_at DESC);
	`)
	return err
}

// InsertBatch persists one digest run's posts in a single transaction.
// An empty batch is a no-op.
func (s *PostStore) InsertBatch(ctx context.Context, posts []models.GeneratedPost) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert posts: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range posts {
		_, err := tx.Exec(ctx, `
			INSERT INTO generated_posts
				(id, tenant_id, message_id, caption, image_url, image_content_type, image_inline, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, p.TenantID, p.MessageID, p.Caption, p.Image.URL, p.Image.ContentType, p.Image.Inline, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert post %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListRecent returns a tenant's posts, newest first, for the dashboard
// read path.
func (s *PostStore) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.GeneratedPost, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, message_id, caption, image_url, image_content_type, image_inline, created_at
		FROM generated_posts
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.GeneratedPost
	for rows.Next() {
		var p models.GeneratedPost
		if err := rows.Scan(&p.ID, &p.TenantID, &p.MessageID, &p.Caption,
			&p.Image.URL, &p.Image.ContentType, &p.Image.Inline, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
