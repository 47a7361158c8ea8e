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

// Package tenant resolves inbound recipient addresses to tenants.
// Lookup is case-insensitive exact match; no match is a normal outcome,
// not an error — misdirected mail is expected in steady state.
package tenant

import (
	"context"
	"strings"

	"github.com/classgram/ingestion/internal/models"
)

// Directory is the tenant lookup the resolver runs against, implemented
// by store.TenantStore. Addresses passed in are already normalized.
type Directory interface {
	GetByRecipient(ctx context.Context, address string) (*models.Tenant, error)
}

// NormalizeAddress canonicalises a recipient address for comparison:
// surrounding whitespace stripped, lowercased.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Resolver maps recipient addresses to tenants.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over the given tenant directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// ResolveByRecipient returns the tenant owning the address, or (nil, nil)
// when no tenant does.
func (r *Resolver) ResolveByRecipient(ctx context.Context, address string) (*models.Tenant, error) {
	return r.dir.GetByRecipient(ctx, NormalizeAddress(address))
}

// IsAddressAvailable reports whether no tenant currently owns the
// address. Advisory fast-path for onboarding — the storage layer's
// uniqueness constraint is the authoritative check.
func (r *Resolver) IsAddressAvailable(ctx context.Context, address string) (bool, error) {
	t, err := r.dir.GetByRecipient(ctx, NormalizeAddress(address))
	if err != nil {
		return false, err
	}
	return t == nil, nil
}
