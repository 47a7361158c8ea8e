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

// Classgram — Ingestion Service
//
// Entry point for the Go ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL, Redis, and the object store
//  3. Serves the inbound-mail webhook for the upstream relay
//  4. Runs the daily digest scheduler that curates posts
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/classgram/ingestion/internal/config"
	"github.com/classgram/ingestion/internal/curator"
	"github.com/classgram/ingestion/internal/dedup"
	"github.com/classgram/ingestion/internal/digest"
	"github.com/classgram/ingestion/internal/imagestore"
	"github.com/classgram/ingestion/internal/ingest"
	"github.com/classgram/ingestion/internal/store"
	"github.com/classgram/ingestion/internal/tenant"
	"github.com/classgram/ingestion/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting Classgram ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"bucket", cfg.Storage.Bucket,
		"digest_schedule", cfg.Digest,
	)

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores (Postgres) ---
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

	// --- Attachment Store (S3) ---
	uploader, err := imagestore.NewS3Uploader(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to initialise object store client", "error", err)
		os.Exit(1)
	}
	publicURL := cfg.Storage.PublicBaseURL
	if publicURL == "" {
		publicURL = cfg.Storage.Endpoint
	}
	attachments := imagestore.New(uploader, cfg.Storage.Bucket, publicURL)

	// --- Ingestion Pipeline ---
	resolver := tenant.NewResolver(tenants)
	pipeline := ingest.New(resolver, attachments, messages)

	// --- Webhook Server ---
	filter := dedup.NewFilter(rdb, cfg.DedupTTL)
	handler := webhook.NewHandler(pipeline, filter, cfg.RelaySigningKey,
		webhook.HealthCheck{Name: "postgres", Ping: pgPool.Ping},
		webhook.HealthCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
	)

	ready, err := webhook.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Digest Scheduler ---
	// Without an API key the service still ingests; it just never
	// curates.
	var wg sync.WaitGroup
	if cfg.Curator.APIKey == "" {
		slog.Warn("no curator API key configured, daily digest disabled")
	} else {
		loc, err := time.LoadLocation(cfg.Digest.Timezone)
		if err != nil {
			slog.Error("invalid digest timezone", "timezone", cfg.Digest.Timezone, "error", err)
			os.Exit(1)
		}

		client := curator.NewClient(
			&http.Client{Timeout: 5 * time.Minute},
			cfg.Curator.APIKey,
			cfg.Curator.Model,
			cfg.Curator.MaxTokens,
			cfg.Curator.Temperature,
		)
		scheduler := digest.New(tenants, messages, curator.New(client), posts,
			cfg.Digest.Hour, cfg.Digest.Minute, loc)

		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stop the webhook server and scheduler

	wg.Wait()
	rdb.Close()

	slog.Info("ingestion service stopped")
}
