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

// Package models defines the data structures shared across the ingestion
// and curation pipeline.
package models

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant is an onboarded organization. Each tenant owns exactly one
// recipient address; inbound mail is routed to the tenant by that address.
// The address is stored normalized (trimmed, lowercased) and is unique
// across all tenants.
type Tenant struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	RecipientAddress string    `json:"recipient_address"`
	CreatedAt        time.Time `json:"created_at"`
}

// ImageRef points at one stored image from an inbound message. URL is
// either a public object-store URL or, when the object store was
// unavailable at ingestion time, a self-contained data: URL carrying the
// image bytes inline. Inline marks which of the two it is.
type ImageRef struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Inline      bool   `json:"inline,omitempty"`
}

// InlineImageRef encodes raw image bytes as a data: URL reference.
// Used as the fallback when the object store cannot be reached.
func InlineImageRef(data []byte, contentType string) ImageRef {
	return ImageRef{
		URL:         fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)),
		ContentType: contentType,
		Inline:      true,
	}
}

// InlineData returns the raw bytes of an inline reference. It fails on
// references that are not data: URLs.
func (r ImageRef) InlineData() ([]byte, error) {
	rest, ok := strings.CutPrefix(r.URL, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL: %q", truncate(r.URL, 64))
	}
	_, b64, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, fmt.Errorf("data URL without base64 payload: %q", truncate(r.URL, 64))
	}
	return base64.StdEncoding.DecodeString(b64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// InboundMessage is one ingested email, created exactly once per accepted
// webhook call and immutable afterwards. Images holds the ordered image
// references extracted from the message's attachments.
type InboundMessage struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Sender     string     `json:"sender"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	ReceivedAt time.Time  `json:"received_at"`
	RawText    string     `json:"raw_text"`
	Images     []ImageRef `json:"images"`
}

// GeneratedPost is one curated caption+image combination produced by a
// digest run. Insert-only; the dashboard reads them back in reverse
// chronological order.
type GeneratedPost struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	MessageID uuid.UUID `json:"message_id"`
	Caption   string    `json:"caption"`
	Image     ImageRef  `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}
