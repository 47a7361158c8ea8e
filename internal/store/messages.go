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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classgram/ingestion/internal/models"
)

// MessageStore provides row operations on the messages and
// parsed_message_content tables. Messages are insert-only.
type MessageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates the message store and ensures its schema.
func NewMessageStore(ctx context.Context, pool *pgxpool.Pool) (*MessageStore, error) {
	s := &MessageStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure messages schema: %w", err)
	}
	slog.Info("message store initialised")
	return s, nil
}

func (s *MessageStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id          UUID PRIMARY KEY,
			tenant_id   UUID NOT NULL REFERENCES tenants(id),
			sender      TEXT NOT NULL,
			recipient   TEXT NOT NULL,
			subject     TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL,
			raw_text    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_messages_tenant_received
			ON messages(tenant_id, received_at);

		CREATE TABLE IF NOT EXISTS parsed_message_content (
			id           BIGSERIAL PRIMARY KEY,
			message_id   UUID NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
			text_content TEXT NOT NULL DEFAULT '',
			image_refs   JSONB NOT NULL DEFAULT '[]',
			processed    BOOLEAN NOT NULL DEFAULT FALSE
		);
	`)
	return err
}

// Insert persists one inbound message together with its parsed-content
// side record (tagged processed) in a single transaction.
func (s *MessageStore) Insert(ctx context.Context, msg models.InboundMessage) error {
	refs, err := json.Marshal(imageRefsOrEmpty(msg.Images))
	if err != nil {
		return fmt.Errorf("marshal image refs: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert message: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, sender, recipient, subject, received_at, raw_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.TenantID, msg.Sender, msg.Recipient, msg.Subject, msg.ReceivedAt, msg.RawText)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO parsed_message_content (message_id, text_content, image_refs, processed)
		VALUES ($1, $2, $3, TRUE)
	`, msg.ID, msg.RawText, refs)
	if err != nil {
		return fmt.Errorf("insert parsed content: %w", err)
	}

	return tx.Commit(ctx)
}

// FetchWindow returns the tenant's messages with received_at inside
// [start, end], ascending. An empty result is valid — nothing to curate.
func (s *MessageStore) FetchWindow(ctx context.Context, tenantID uuid.UUID, start, end time.Time) ([]models.InboundMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.tenant_id, m.sender, m.recipient, m.subject,
		       m.received_at, m.raw_text, p.image_refs
		FROM messages m
		JOIN parsed_message_content p ON p.message_id = m.id
		WHERE m.tenant_id = $1 AND m.received_at >= $2 AND m.received_at <= $3
		ORDER BY m.received_at
	`, tenantID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.InboundMessage
	for rows.Next() {
		var (
			m    models.InboundMessage
			refs []byte
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Sender, &m.Recipient,
			&m.Subject, &m.ReceivedAt, &m.RawText, &refs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(refs, &m.Images); err != nil {
			return nil, fmt.Errorf("unmarshal image refs for message %s: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// imageRefsOrEmpty keeps the jsonb column a [] rather than null.
func imageRefsOrEmpty(refs []models.ImageRef) []models.ImageRef {
	if refs == nil {
		return []models.ImageRef{}
	}
	return refs
}
