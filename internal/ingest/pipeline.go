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

// Package ingest runs the inbound-mail pipeline: classify the relay
// payload, resolve the tenant from the recipient address, decode the
// message content, store image attachments, and persist the message.
// Event notifications and senderless payloads are acknowledged without
// being stored.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classgram/ingestion/internal/models"
	"github.com/classgram/ingestion/internal/relay"
)

// ErrUnknownRecipient is returned when no tenant owns the recipient
// address. Callers reject the delivery so the relay stops retrying it.
var ErrUnknownRecipient = errors.New("no tenant for recipient")

// TenantResolver maps a recipient address to its tenant. (nil, nil)
// means no tenant owns the address.
type TenantResolver interface {
	ResolveByRecipient(ctx context.Context, address string) (*models.Tenant, error)
}

// AttachmentStore persists one image attachment, degrading to an inline
// reference when object storage is unreachable.
type AttachmentStore interface {
	StoreOrFallback(ctx context.Context, data []byte, contentType string, tenantID uuid.UUID) models.ImageRef
}

// MessageWriter persists one ingested message.
type MessageWriter interface {
	Insert(ctx context.Context, msg models.InboundMessage) error
}

// Result reports what the pipeline did with one payload.
type Result struct {
	// Ignored is true for event notifications and senderless payloads,
	// which are acknowledged but not stored.
	Ignored   bool
	TenantID  uuid.UUID
	MessageID uuid.UUID
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	resolver    TenantResolver
	attachments AttachmentStore
	messages    MessageWriter

	// now is injectable for deterministic timestamps in tests.
	now func() time.Time
}

// New creates an ingestion pipeline.
func New(resolver TenantResolver, attachments AttachmentStore, messages MessageWriter) *Pipeline {
	return &Pipeline{
		resolver:    resolver,
		attachments: attachments,
		messages:    messages,
		now:         time.Now,
	}
}

// Ingest processes one relay payload end to end. Event notifications
// and payloads without a sender return an Ignored result. Unknown
// recipients return ErrUnknownRecipient, unsupported payload shapes
// relay.ErrUnsupportedPayload.
func (p *Pipeline) Ingest(ctx context.Context, payload relay.Payload) (Result, error) {
	if relay.Classify(payload) == relay.KindEvent {
		slog.Debug("ignoring relay event notification")
		return Result{Ignored: true}, nil
	}

	sender := payload.Sender()
	if sender == "" {
		slog.Debug("ignoring payload without sender")
		return Result{Ignored: true}, nil
	}

	recipient := payload.Recipient()
	tenant, err := p.resolver.ResolveByRecipient(ctx, recipient)
	if err != nil {
		return Result{}, fmt.Errorf("resolve tenant: %w", err)
	}
	if tenant == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, recipient)
	}

	mail, err := relay.Decode(payload)
	if err != nil {
		return Result{}, err
	}

	msg := models.InboundMessage{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		Sender:     sender,
		Recipient:  recipient,
		Subject:    subjectOrDefault(payload.Subject()),
		ReceivedAt: payload.ReceivedAt(p.now()),
		RawText:    bodyText(mail),
		Images:     p.storeAttachments(ctx, tenant.ID, mail.Attachments),
	}

	if err := p.messages.Insert(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("persist message: %w", err)
	}

	slog.Info("message ingested",
		"tenant_id", tenant.ID,
		"message_id", msg.ID,
		"sender", sender,
		"attachments", len(msg.Images),
	)
	return Result{TenantID: tenant.ID, MessageID: msg.ID}, nil
}

// storeAttachments uploads every attachment concurrently, preserving
// payload order in the returned slice. Store failures degrade to inline
// references inside StoreOrFallback, so every attachment yields a ref.
func (p *Pipeline) storeAttachments(ctx context.Context, tenantID uuid.UUID, attachments []relay.Attachment) []models.ImageRef {
	if len(attachments) == 0 {
		return nil
	}

	refs := make([]models.ImageRef, len(attachments))
	var wg sync.WaitGroup
	for i, att := range attachments {
		wg.Add(1)
		go func(i int, att relay.Attachment) {
			defer wg.Done()
			refs[i] = p.attachments.StoreOrFallback(ctx, att.Content, att.ContentType, tenantID)
		}(i, att)
	}
	wg.Wait()

	return refs
}

// bodyText prefers the plain-text body, falling back to HTML for
// messages that carry no text part.
func bodyText(mail relay.ParsedMail) string {
	if mail.Text != "" {
		return mail.Text
	}
	return mail.HTML
}

func subjectOrDefault(subject string) string {
	if subject == "" {
		return "(no subject)"
	}
	return subject
}
