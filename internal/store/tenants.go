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

// Package store provides the Postgres-backed stores for tenants, inbound
// messages and generated posts. Every tenant-owned table is filtered by
// tenant id on read; schemas are ensured on construction.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classgram/ingestion/internal/models"
)

// ErrAddressTaken is returned when a tenant is created with a recipient
// address another tenant already owns. The unique constraint on the
// tenants table is the authoritative enforcement point.
var ErrAddressTaken = errors.New("recipient address already taken")

// uniqueViolation is the Postgres error code for constraint 23505.
const uniqueViolation = "23505"

// TenantStore provides row operations on the tenants table.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore creates the tenant store and ensures its schema.
func NewTenantStore(ctx context.Context, pool *pgxpool.Pool) (*TenantStore, error) {
	s := &TenantStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure tenants schema: %w", err)
	}
	slog.Info("tenant store initialised")
	return s, nil
}

func (s *TenantStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id                UUID PRIMARY KEY,
			name              TEXT NOT NULL,
			recipient_address TEXT NOT NULL UNIQUE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// Create inserts a new tenant. The recipient address is stored normalized
// (trimmed, lowercased); a duplicate address fails with ErrAddressTaken.
func (s *TenantStore) Create(ctx context.Context, name, recipientAddress string) (*models.Tenant, error) {
	t := models.Tenant{
		ID:               uuid.New(),
		Name:             name,
		RecipientAddress: strings.ToLower(strings.TrimSpace(recipientAddress)),
		CreatedAt:        time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, recipient_address, created_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.Name, t.RecipientAddress, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAddressTaken
		}
		return nil, fmt.Errorf("insert tenant: %w", err)
	}

	return &t, nil
}

// GetByRecipient retrieves the tenant owning the given normalized address.
// Returns (nil, nil) when no tenant owns it — misdirected mail is a
// steady-state outcome, not an error.
func (s *TenantStore) GetByRecipient(ctx context.Context, address string) (*models.Tenant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, recipient_address, created_at
		FROM tenants
		WHERE recipient_address = $1
	`, address)
	return scanTenant(row)
}

// List returns all tenants, oldest first.
func (s *TenantStore) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, recipient_address, created_at
		FROM tenants
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.RecipientAddress, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.RecipientAddress, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
