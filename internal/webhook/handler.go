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

// Package webhook exposes the inbound-mail HTTP surface. The upstream
// relay POSTs each received message (or delivery event) to
// /webhooks/mailgun as multipart form data, URL-encoded form data, or
// JSON; the handler verifies the delivery signature, filters duplicate
// deliveries, and hands the payload to the ingestion pipeline.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/classgram/ingestion/internal/ingest"
	"github.com/classgram/ingestion/internal/relay"
)

// maxPayloadBytes bounds a single webhook delivery. The relay caps
// messages at 25MB; the margin covers form-encoding overhead.
const maxPayloadBytes = 50 << 20

// Ingestor runs the ingestion pipeline for one payload.
type Ingestor interface {
	Ingest(ctx context.Context, payload relay.Payload) (ingest.Result, error)
}

// DeliveryFilter remembers processed delivery tokens. A token is
// marked only after its delivery has been fully handled, so a failed
// ingestion leaves the relay's retry eligible for processing.
type DeliveryFilter interface {
	Seen(ctx context.Context, token string) (bool, error)
	Mark(ctx context.Context, token string) error
}

// HealthCheck is one named dependency probe for the health endpoint.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler processes inbound relay deliveries.
type Handler struct {
	pipeline   Ingestor
	filter     DeliveryFilter
	signingKey string
	checks     []HealthCheck
}

// NewHandler creates the webhook handler. An empty signingKey disables
// signature verification; a nil filter disables deduplication.
func NewHandler(pipeline Ingestor, filter DeliveryFilter, signingKey string, checks ...HealthCheck) *Handler {
	return &Handler{
		pipeline:   pipeline,
		filter:     filter,
		signingKey: signingKey,
		checks:     checks,
	}
}

// ServeInbound handles one relay delivery.
//
// Responses:
//   - 204 message stored
//   - 200 acknowledged but not stored (events, duplicates, no sender)
//   - 401 delivery signature invalid
//   - 406 no tenant owns the recipient address
//   - 400 payload shape not recognised
//   - 500 persistence failure (the relay will retry)
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload, err := parsePayload(r)
	if err != nil {
		slog.Warn("unreadable webhook delivery", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.signingKey != "" && !h.verifySignature(payload) {
		slog.Warn("rejecting delivery with invalid signature",
			"sender", payload.Sender(),
		)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token := payload.Token()
	if h.filter != nil && token != "" {
		seen, err := h.filter.Seen(r.Context(), token)
		if err != nil {
			// Redis being down must not drop mail; accept a
			// possible duplicate instead.
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if seen {
			slog.Debug("skipping duplicate delivery", "token", token)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	result, err := h.pipeline.Ingest(r.Context(), payload)
	switch {
	case errors.Is(err, ingest.ErrUnknownRecipient):
		slog.Info("delivery for unknown recipient",
			"recipient", payload.Recipient(),
		)
		w.WriteHeader(http.StatusNotAcceptable)
	case errors.Is(err, relay.ErrUnsupportedPayload):
		slog.Warn("unsupported delivery payload")
		w.WriteHeader(http.StatusBadRequest)
	case err != nil:
		// The token stays unmarked so the relay's retry of this
		// delivery is processed, not swallowed as a duplicate.
		slog.Error("ingestion failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	case result.Ignored:
		h.markProcessed(r.Context(), token)
		w.WriteHeader(http.StatusOK)
	default:
		h.markProcessed(r.Context(), token)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) markProcessed(ctx context.Context, token string) {
	if h.filter == nil || token == "" {
		return
	}
	if err := h.filter.Mark(ctx, token); err != nil {
		slog.Warn("failed to mark delivery processed", "token", token, "error", err)
	}
}

// ServeHealth reports process liveness plus the state of each
// dependency probe.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"
	deps := make(map[string]string, len(h.checks))

	for _, c := range h.checks {
		if err := c.Ping(r.Context()); err != nil {
			deps[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "degraded"
		} else {
			deps[c.Name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status":       overall,
		"dependencies": deps,
	})
}

// verifySignature checks the relay's HMAC over timestamp+token against
// the delivery's signature field.
func (h *Handler) verifySignature(p relay.Payload) bool {
	timestamp := p.Field("timestamp")
	token := p.Field("token")
	signature := p.Field("signature")
	if timestamp == "" || token == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.signingKey))
	mac.Write([]byte(timestamp + token))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// parsePayload flattens the request body into relay fields and files,
// whichever of the relay's three delivery encodings was used.
func parsePayload(r *http.Request) (relay.Payload, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxPayloadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return parseMultipart(r)
	case mediaType == "application/json":
		return parseJSON(r.Body)
	default:
		if err := r.ParseForm(); err != nil {
			return relay.Payload{}, fmt.Errorf("parse form: %w", err)
		}
		return relay.Payload{Fields: flattenValues(r.PostForm)}, nil
	}
}

func parseMultipart(r *http.Request) (relay.Payload, error) {
	if err := r.ParseMultipartForm(maxPayloadBytes); err != nil {
		return relay.Payload{}, fmt.Errorf("parse multipart form: %w", err)
	}

	p := relay.Payload{Fields: flattenValues(r.MultipartForm.Value)}

	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return relay.Payload{}, fmt.Errorf("open uploaded part %s: %w", fh.Filename, err)
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return relay.Payload{}, fmt.Errorf("read uploaded part %s: %w", fh.Filename, err)
			}
			p.Files = append(p.Files, relay.File{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     content,
			})
		}
	}

	return p, nil
}

func parseJSON(body io.Reader) (relay.Payload, error) {
	var raw map[string]any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return relay.Payload{}, fmt.Errorf("decode JSON body: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		case nil:
			// skip
		default:
			// Nested structures (event-data and friends) keep their
			// JSON form so Classify can still see them.
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			fields[k] = string(b)
		}
	}

	// Event notifications carry their signature as a nested object
	// rather than flat fields. Lift it so verification and dedup see
	// the same field names for every encoding.
	if sig, ok := raw["signature"].(map[string]any); ok {
		for _, k := range []string{"timestamp", "token", "signature"} {
			if fields[k] != "" && k != "signature" {
				continue
			}
			switch val := sig[k].(type) {
			case string:
				fields[k] = val
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		}
	}

	return relay.Payload{Fields: fields}, nil
}

func flattenValues(values map[string][]string) map[string]string {
	fields := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}
	return fields
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned
// channel before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhooks/mailgun", handler.ServeInbound)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
