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

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/classgram/ingestion/internal/ingest"
	"github.com/classgram/ingestion/internal/relay"
)

// fakeIngestor records payloads and replies with a scripted result.
type fakeIngestor struct {
	result   ingest.Result
	err      error
	payloads []relay.Payload
}

func (f *fakeIngestor) Ingest(_ context.Context, p relay.Payload) (ingest.Result, error) {
	f.payloads = append(f.payloads, p)
	return f.result, f.err
}

// fakeFilter scripts dedup outcomes and records marked tokens.
type fakeFilter struct {
	seen   map[string]bool
	err    error
	checks int
	marks  int
}

func (f *fakeFilter) Seen(_ context.Context, token string) (bool, error) {
	f.checks++
	return f.seen[token], f.err
}

func (f *fakeFilter) Mark(_ context.Context, token string) error {
	f.marks++
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.seen[token] = true
	return nil
}

// flakyIngestor fails its first deliveries, then succeeds.
type flakyIngestor struct {
	failures int
	calls    int
}

func (f *flakyIngestor) Ingest(context.Context, relay.Payload) (ingest.Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return ingest.Result{}, errors.New("db down")
	}
	return ingest.Result{TenantID: uuid.New(), MessageID: uuid.New()}, nil
}

func postForm(t *testing.T, h *Handler, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeInbound(rr, req)
	return rr
}

func sign(key, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}

// TestServeInboundStatusCodes verifies the response code for each
// pipeline outcome.
func TestServeInboundStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		result ingest.Result
		err    error
		want   int
	}{
		{
			name:   "stored",
			result: ingest.Result{TenantID: uuid.New(), MessageID: uuid.New()},
			want:   http.StatusNoContent,
		},
		{
			name:   "ignored event",
			result: ingest.Result{Ignored: true},
			want:   http.StatusOK,
		},
		{
			name: "unknown recipient",
			err:  ingest.ErrUnknownRecipient,
			want: http.StatusNotAcceptable,
		},
		{
			name: "unsupported payload",
			err:  relay.ErrUnsupportedPayload,
			want: http.StatusBadRequest,
		},
		{
			name: "persistence failure",
			err:  errors.New("connection reset"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeIngestor{result: tt.result, err: tt.err}, nil, "")
			rr := postForm(t, h, map[string]string{
				"sender":     "teacher@school.example",
				"recipient":  "org1@sandbox.example",
				"body-plain": "hello",
			})
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestServeInboundMethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeIngestor{}, nil, "")
	req := httptest.NewRequest(http.MethodGet, "/webhooks/mailgun", nil)
	rr := httptest.NewRecorder()
	h.ServeInbound(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeInboundSignature(t *testing.T) {
	const key = "signing-key"

	t.Run("valid signature accepted", func(t *testing.T) {
		ing := &fakeIngestor{result: ingest.Result{MessageID: uuid.New()}}
		h := NewHandler(ing, nil, key)

		rr := postForm(t, h, map[string]string{
			"sender":     "teacher@school.example",
			"body-plain": "hello",
			"timestamp":  "1756380000",
			"token":      "tok-1",
			"signature":  sign(key, "1756380000", "tok-1"),
		})
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
		}
	})

	t.Run("invalid signature rejected", func(t *testing.T) {
		ing := &fakeIngestor{}
		h := NewHandler(ing, nil, key)

		rr := postForm(t, h, map[string]string{
			"sender":     "teacher@school.example",
			"body-plain": "hello",
			"timestamp":  "1756380000",
			"token":      "tok-1",
			"signature":  "deadbeef",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
		if len(ing.payloads) != 0 {
			t.Error("unsigned delivery reached the pipeline")
		}
	})

	t.Run("missing signature fields rejected", func(t *testing.T) {
		h := NewHandler(&fakeIngestor{}, nil, key)
		rr := postForm(t, h, map[string]string{
			"sender":     "teacher@school.example",
			"body-plain": "hello",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("verification skipped without key", func(t *testing.T) {
		h := NewHandler(&fakeIngestor{result: ingest.Result{}}, nil, "")
		rr := postForm(t, h, map[string]string{
			"sender":     "teacher@school.example",
			"body-plain": "hello",
		})
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
		}
	})
}

func TestServeInboundDedup(t *testing.T) {
	fields := map[string]string{
		"sender":     "teacher@school.example",
		"body-plain": "hello",
		"token":      "tok-1",
	}

	t.Run("duplicate acknowledged without ingesting", func(t *testing.T) {
		ing := &fakeIngestor{}
		h := NewHandler(ing, &fakeFilter{seen: map[string]bool{"tok-1": true}}, "")
		rr := postForm(t, h, fields)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		if len(ing.payloads) != 0 {
			t.Error("duplicate delivery reached the pipeline")
		}
	})

	t.Run("new delivery ingested and marked", func(t *testing.T) {
		ing := &fakeIngestor{}
		filter := &fakeFilter{}
		h := NewHandler(ing, filter, "")
		rr := postForm(t, h, fields)
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
		}
		if len(ing.payloads) != 1 {
			t.Error("new delivery did not reach the pipeline")
		}
		if filter.marks != 1 {
			t.Errorf("marks = %d, want 1", filter.marks)
		}
	})

	t.Run("filter failure does not drop mail", func(t *testing.T) {
		ing := &fakeIngestor{}
		h := NewHandler(ing, &fakeFilter{err: errors.New("redis down")}, "")
		rr := postForm(t, h, fields)
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
		}
		if len(ing.payloads) != 1 {
			t.Error("delivery lost on dedup failure")
		}
	})

	t.Run("tokenless delivery skips dedup", func(t *testing.T) {
		filter := &fakeFilter{}
		h := NewHandler(&fakeIngestor{}, filter, "")
		rr := postForm(t, h, map[string]string{
			"sender":     "teacher@school.example",
			"body-plain": "hello",
		})
		if rr.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
		}
		if filter.checks != 0 || filter.marks != 0 {
			t.Error("dedup consulted without a token")
		}
	})

	t.Run("failed ingestion stays retryable", func(t *testing.T) {
		ing := &flakyIngestor{failures: 1}
		filter := &fakeFilter{}
		h := NewHandler(ing, filter, "")

		rr := postForm(t, h, fields)
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("first delivery status = %d, want %d", rr.Code, http.StatusInternalServerError)
		}
		if filter.marks != 0 {
			t.Fatal("failed delivery was marked as processed")
		}

		// The relay retries the same token after a 500; the retry must
		// be ingested, not swallowed as a duplicate.
		rr = postForm(t, h, fields)
		if rr.Code != http.StatusNoContent {
			t.Errorf("retry status = %d, want %d", rr.Code, http.StatusNoContent)
		}
		if ing.calls != 2 {
			t.Errorf("pipeline ingestions = %d, want 2", ing.calls)
		}
	})
}

// TestServeInboundMultipart verifies uploaded files reach the pipeline
// with their bytes intact.
func TestServeInboundMultipart(t *testing.T) {
	ing := &fakeIngestor{}
	h := NewHandler(ing, nil, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("sender", "teacher@school.example")
	mw.WriteField("recipient", "org1@sandbox.example")
	mw.WriteField("body-plain", "see photo")
	fw, err := mw.CreateFormFile("attachment-1", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte{0x89, 0x50, 0x4E, 0x47})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeInbound(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if len(ing.payloads) != 1 {
		t.Fatal("payload did not reach the pipeline")
	}
	p := ing.payloads[0]
	if p.Sender() != "teacher@school.example" {
		t.Errorf("sender = %q", p.Sender())
	}
	if len(p.Files) != 1 {
		t.Fatalf("files = %d, want 1", len(p.Files))
	}
	if p.Files[0].Name != "photo.png" {
		t.Errorf("file name = %q", p.Files[0].Name)
	}
	if !bytes.Equal(p.Files[0].Content, []byte{0x89, 0x50, 0x4E, 0x47}) {
		t.Error("file bytes altered in transit")
	}
}

func TestServeInboundJSON(t *testing.T) {
	ing := &fakeIngestor{result: ingest.Result{Ignored: true}}
	h := NewHandler(ing, nil, "")

	body := `{"event-data": {"event": "failed", "severity": "permanent"}, "timestamp": 1756380000}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeInbound(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if len(ing.payloads) != 1 {
		t.Fatal("payload did not reach the pipeline")
	}
	p := ing.payloads[0]
	if relay.Classify(p) != relay.KindEvent {
		t.Error("nested event-data object lost during JSON flattening")
	}
	if got := p.Field("timestamp"); got != "1756380000" {
		t.Errorf("timestamp = %q", got)
	}
}

// TestServeInboundJSONNestedSignature verifies that event notifications,
// which carry their signature as a nested object, pass verification.
func TestServeInboundJSONNestedSignature(t *testing.T) {
	const key = "signing-key"
	ing := &fakeIngestor{result: ingest.Result{Ignored: true}}
	h := NewHandler(ing, nil, key)

	body := `{
		"signature": {
			"timestamp": "1756380000",
			"token": "tok-9",
			"signature": "` + sign(key, "1756380000", "tok-9") + `"
		},
		"event-data": {"event": "delivered"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeInbound(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if len(ing.payloads) != 1 {
		t.Fatal("payload did not reach the pipeline")
	}
	if got := ing.payloads[0].Token(); got != "tok-9" {
		t.Errorf("token = %q, want tok-9", got)
	}
}

func TestServeHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		h := NewHandler(&fakeIngestor{}, nil, "",
			HealthCheck{Name: "postgres", Ping: func(context.Context) error { return nil }},
			HealthCheck{Name: "redis", Ping: func(context.Context) error { return nil }},
		)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		h.ServeHealth(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("degraded dependency", func(t *testing.T) {
		h := NewHandler(&fakeIngestor{}, nil, "",
			HealthCheck{Name: "postgres", Ping: func(context.Context) error { return nil }},
			HealthCheck{Name: "redis", Ping: func(context.Context) error { return errors.New("timeout") }},
		)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		h.ServeHealth(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
		}
		if !strings.Contains(rr.Body.String(), `"status":"degraded"`) {
			t.Errorf("body = %s", rr.Body.String())
		}
	})
}
