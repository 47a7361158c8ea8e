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

// Package relay models the inbound payloads posted by the upstream mail
// relay and decodes them into parsed mail content. A payload is either a
// raw MIME blob, a set of pre-split text fields (optionally with uploaded
// binary parts), or a delivery/bounce event notification. The shape is
// decided once by Classify so downstream code switches on a tag instead
// of probing optional fields.
package relay

import (
	"strconv"
	"time"
)

// File is one uploaded binary part accompanying a split-field payload.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// Payload is one inbound webhook call from the mail relay, flattened to
// named text fields plus any uploaded files.
type Payload struct {
	Fields map[string]string
	Files  []File
}

// Field returns the first non-empty value among the given field names.
// The relay is inconsistent about casing ("sender" vs "Sender"), so
// callers list every variant they accept.
func (p Payload) Field(names ...string) string {
	for _, n := range names {
		if v, ok := p.Fields[n]; ok && v != "" {
			return v
		}
	}
	return ""
}

// Sender returns the message sender, or "" for payloads that carry none.
func (p Payload) Sender() string {
	return p.Field("sender", "Sender", "from", "From")
}

// Recipient returns the tenant-facing recipient address.
func (p Payload) Recipient() string {
	return p.Field("recipient", "Recipient", "to", "To")
}

// Subject returns the message subject, or "" when absent.
func (p Payload) Subject() string {
	return p.Field("subject", "Subject")
}

// Token returns the relay's per-delivery token, used for deduplication
// of re-delivered webhooks. Falls back to the Message-Id header field.
func (p Payload) Token() string {
	return p.Field("token", "Message-Id", "message-id")
}

// ReceivedAt resolves the message timestamp from the relay's epoch-seconds
// field, falling back to now when absent or malformed.
func (p Payload) ReceivedAt(now time.Time) time.Time {
	raw := p.Field("timestamp")
	if raw == "" {
		return now
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return now
	}
	return time.Unix(secs, 0).UTC()
}

// Kind tags the payload shape.
type Kind int

const (
	// KindUnrecognized carries neither message fields nor an event marker.
	KindUnrecognized Kind = iota
	// KindEvent is a delivery/bounce notification, not an inbound message.
	KindEvent
	// KindRawMIME carries the full MIME-encoded message in body-mime.
	KindRawMIME
	// KindSplit carries pre-split body-plain/body-html fields.
	KindSplit
	// KindSplitWithFiles is KindSplit plus uploaded binary parts.
	KindSplitWithFiles
)

// Classify decides the payload shape. Called once at the pipeline entry;
// the result is authoritative for the rest of the ingestion call.
func Classify(p Payload) Kind {
	if p.Field("event") != "" || p.Field("event-data") != "" {
		return KindEvent
	}
	if p.Field("body-mime") != "" {
		return KindRawMIME
	}
	if p.Field("body-plain") != "" || p.Field("body-html") != "" {
		if len(p.Files) > 0 {
			return KindSplitWithFiles
		}
		return KindSplit
	}
	return KindUnrecognized
}
