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

package curator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classgram/ingestion/internal/models"
)

// ErrInvalidResponse is returned when the model's reply cannot be
// parsed into selections. The digest run for that tenant fails; the
// next scheduled run tries again.
var ErrInvalidResponse = errors.New("unparseable model response")

// CompletionClient is the model call the curator runs against,
// implemented by Client and mocked in tests.
type CompletionClient interface {
	Complete(ctx context.Context, content []ContentBlock) (string, error)
}

// selection is one picked photo in the model's reply. Indices are
// 0-based positions in the prompt.
type selection struct {
	EmailIndex int    `json:"email_index"`
	ImageIndex int    `json:"image_index"`
	Caption    string `json:"caption"`
	Reasoning  string `json:"reasoning"`
}

type selectionsEnvelope struct {
	Selections []selection `json:"selections"`
}

// Curator produces curated posts from a batch of ingested messages.
type Curator struct {
	client CompletionClient
	retry  RetryPolicy

	// now is injectable for deterministic timestamps in tests.
	now func() time.Time
}

// New creates a curator with the default retry policy.
func New(client CompletionClient) *Curator {
	return &Curator{
		client: client,
		retry:  DefaultRetry(),
		now:    time.Now,
	}
}

// Curate asks the model to pick post-worthy photos from the day's
// messages and returns one GeneratedPost per valid selection. An empty
// message batch, or a reply selecting nothing, yields zero posts and no
// error. Selections pointing outside the batch are dropped with a
// warning; duplicate selections of the same photo are kept as distinct
// posts.
func (c *Curator) Curate(ctx context.Context, date time.Time, messages []models.InboundMessage) ([]models.GeneratedPost, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(date, messages)

	var reply string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var cerr error
		reply, cerr = c.client.Complete(ctx, prompt)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	selections, err := parseSelections(reply)
	if err != nil {
		return nil, err
	}

	var posts []models.GeneratedPost
	for _, sel := range selections {
		if sel.EmailIndex < 0 || sel.EmailIndex >= len(messages) {
			slog.Warn("dropping selection with out-of-range email index",
				"email_index", sel.EmailIndex,
				"messages", len(messages),
			)
			continue
		}
		msg := messages[sel.EmailIndex]
		if sel.ImageIndex < 0 || sel.ImageIndex >= len(msg.Images) {
			slog.Warn("dropping selection with out-of-range image index",
				"email_index", sel.EmailIndex,
				"image_index", sel.ImageIndex,
				"images", len(msg.Images),
			)
			continue
		}

		posts = append(posts, models.GeneratedPost{
			ID:        uuid.New(),
			TenantID:  msg.TenantID,
			MessageID: msg.ID,
			Caption:   sel.Caption,
			Image:     msg.Images[sel.ImageIndex],
			CreatedAt: c.now(),
		})
	}

	return posts, nil
}

// parseSelections extracts the selections array from the model's reply,
// tolerating a markdown code fence around the JSON.
func parseSelections(reply string) ([]selection, error) {
	cleaned := stripFence(strings.TrimSpace(reply))

	var envelope selectionsEnvelope
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if envelope.Selections == nil {
		return nil, fmt.Errorf("%w: no selections field", ErrInvalidResponse)
	}
	return envelope.Selections, nil
}

// stripFence removes a surrounding ```/```json markdown fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
