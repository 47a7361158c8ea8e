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

// Package digest runs the daily curation pass: once a day, at a
// configured local time, every tenant's messages from that calendar day
// are fetched, curated into posts, and persisted. Tenants are processed
// independently; one tenant's failure never blocks the others.
package digest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/classgram/ingestion/internal/models"
)

// TenantLister enumerates all onboarded tenants.
type TenantLister interface {
	List(ctx context.Context) ([]models.Tenant, error)
}

// MessageFetcher returns a tenant's messages received inside the window.
type MessageFetcher interface {
	FetchWindow(ctx context.Context, tenantID uuid.UUID, start, end time.Time) ([]models.InboundMessage, error)
}

// PostCurator turns one tenant's messages for a given day into posts.
type PostCurator interface {
	Curate(ctx context.Context, date time.Time, messages []models.InboundMessage) ([]models.GeneratedPost, error)
}

// PostWriter persists one digest run's posts.
type PostWriter interface {
	InsertBatch(ctx context.Context, posts []models.GeneratedPost) error
}

// Scheduler triggers the daily digest at hour:minute in loc.
type Scheduler struct {
	tenants  TenantLister
	messages MessageFetcher
	curator  PostCurator
	posts    PostWriter

	hour   int
	minute int
	loc    *time.Location

	// now is injectable for deterministic scheduling in tests.
	now func() time.Time
}

// New creates a digest scheduler. A nil loc means UTC.
func New(tenants TenantLister, messages MessageFetcher, curator PostCurator, posts PostWriter, hour, minute int, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		tenants:  tenants,
		messages: messages,
		curator:  curator,
		posts:    posts,
		hour:     hour,
		minute:   minute,
		loc:      loc,
		now:      time.Now,
	}
}

// Run fires the digest at the configured time every day until ctx is
// cancelled. A run's failure is logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("digest scheduler started",
		"hour", s.hour,
		"minute", s.minute,
		"timezone", s.loc.String(),
	)

	for {
		wait := time.Until(s.nextFiring())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("digest scheduler stopping")
			return
		case <-timer.C:
			s.RunOnce(ctx, s.now())
		}
	}
}

// nextFiring returns the next hour:minute in loc strictly after now.
func (s *Scheduler) nextFiring() time.Time {
	now := s.now().In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce digests the calendar day containing asOf for every tenant.
// Each tenant is curated and persisted independently; a failed tenant
// is logged and skipped.
func (s *Scheduler) RunOnce(ctx context.Context, asOf time.Time) {
	start, end := dayWindow(asOf.In(s.loc))
	slog.Info("digest run starting", "window_start", start, "window_end", end)

	tenants, err := s.tenants.List(ctx)
	if err != nil {
		slog.Error("digest run aborted, cannot list tenants", "error", err)
		return
	}
	if len(tenants) == 0 {
		slog.Info("digest run finished, no tenants")
		return
	}

	for _, tenant := range tenants {
		if err := s.runTenant(ctx, tenant, start, end); err != nil {
			slog.Error("tenant digest failed",
				"tenant_id", tenant.ID,
				"tenant", tenant.Name,
				"error", err,
			)
		}
	}

	slog.Info("digest run finished", "tenants", len(tenants))
}

func (s *Scheduler) runTenant(ctx context.Context, tenant models.Tenant, start, end time.Time) error {
	messages, err := s.messages.FetchWindow(ctx, tenant.ID, start, end)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		slog.Debug("no messages today, skipping tenant", "tenant_id", tenant.ID)
		return nil
	}

	posts, err := s.curator.Curate(ctx, start, messages)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		slog.Info("curator selected nothing", "tenant_id", tenant.ID, "messages", len(messages))
		return nil
	}

	if err := s.posts.InsertBatch(ctx, posts); err != nil {
		return err
	}

	slog.Info("tenant digest complete",
		"tenant_id", tenant.ID,
		"messages", len(messages),
		"posts", len(posts),
	)
	return nil
}

// dayWindow returns the inclusive bounds of asOf's calendar day in its
// location: midnight through the last nanosecond before the next one.
func dayWindow(asOf time.Time) (start, end time.Time) {
	start = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	end = start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}
