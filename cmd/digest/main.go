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

// Classgram — Manual Digest Command
//
// Standalone CLI tool that runs one digest pass immediately instead of
// waiting for the daily schedule. Intended for re-running a failed
// digest or for trying out prompt changes against a day's real mail.
//
// Usage:
//
//	go run ./cmd/digest/ [--date 2026-08-27] [--show 10]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classgram/ingestion/internal/config"
	"github.com/classgram/ingestion/internal/curator"
	"github.com/classgram/ingestion/internal/digest"
	"github.com/classgram/ingestion/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	dateFlag := flag.String("date", "", "Calendar day to digest, YYYY-MM-DD (default: today)")
	showFlag := flag.Int("show", 0, "After the run, print each tenant's N most recent posts")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if cfg.Curator.APIKey == "" {
		slog.Error("curator API key is required — set curator.api_key in config.yaml or ANTHROPIC_API_KEY")
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Digest.Timezone)
	if err != nil {
		slog.Error("invalid digest timezone", "timezone", cfg.Digest.Timezone, "error", err)
		os.Exit(1)
	}

	asOf := time.Now().In(loc)
	if *dateFlag != "" {
		asOf, err = time.ParseInLocation("2006-01-02", *dateFlag, loc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --date %q: %v\n", *dateFlag, err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	// --- Stores ---
	tenants, err := store.NewTenantStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise tenant store", "error", err)
		os.Exit(1)
	}
	messages, err := store.NewMessageStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise message store", "error", err)
		os.Exit(1)
	}
	posts, err := store.NewPostStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise post store", "error", err)
		os.Exit(1)
	}

	// --- Run Digest ---
	client := curator.NewClient(
		&http.Client{Timeout: 5 * time.Minute},
		cfg.Curator.APIKey,
		cfg.Curator.Model,
		cfg.Curator.MaxTokens,
		cfg.Curator.Temperature,
	)
	scheduler := digest.New(tenants, messages, curator.New(client), posts,
		cfg.Digest.Hour, cfg.Digest.Minute, loc)

	slog.Info("running manual digest", "as_of", asOf.Format("2006-01-02"))
	scheduler.RunOnce(ctx, asOf)

	// --- Summary ---
	if *showFlag <= 0 {
		return
	}

	all, err := tenants.List(ctx)
	if err != nil {
		slog.Error("failed to list tenants for summary", "error", err)
		os.Exit(1)
	}
	for _, t := range all {
		recent, err := posts.ListRecent(ctx, t.ID, *showFlag)
		if err != nil {
			slog.Error("failed to list posts", "tenant", t.Name, "error", err)
			continue
		}
		for _, p := range recent {
			slog.Info("post",
				"tenant", t.Name,
				"created_at", p.CreatedAt,
				"caption", p.Caption,
				"image_inline", p.Image.Inline,
			)
		}
	}
}
