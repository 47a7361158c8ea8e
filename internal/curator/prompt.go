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
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/classgram/ingestion/internal/models"
)

const (
	// maxBodyChars bounds how much of each email body enters the prompt.
	maxBodyChars = 1500

	// maxEmbeddedImageBytes is the provider's limit on a single
	// base64-embedded image.
	maxEmbeddedImageBytes = 5 << 20
)

// systemPrompt frames every curation request; the per-day instructions
// and material travel in the user turn.
const systemPrompt = `You are an expert social media manager for schools. You select the ` +
	`most engaging photos from teachers' emails and write warm, family-friendly ` +
	`captions that celebrate students and their activities.`

const promptIntro = `Below are the %d emails received on %s from teachers and staff, ` +
	`each with its attached photos. ` +
	`Emails and images are numbered; images are labeled "Image E.I" where E is ` +
	`the email number and I is the image number within that email.

Pick the photos that would make engaging posts for the school's family-facing ` +
	`feed, and write a warm, concise caption for each. Prefer candid moments of ` +
	`activity over posed or blurry shots. Skip images that show nothing ` +
	`post-worthy.`

const promptContract = `Reply with ONLY a JSON object, no prose, in this exact shape:

{
  "selections": [
    {
      "email_index": <0-based number of the email>,
      "image_index": <0-based number of the image within that email>,
      "caption": "<the caption to publish>",
      "reasoning": "<one sentence on why this photo>"
    }
  ]
}

Select 3-5 images when the day offers that many good ones; fewer is
fine. Use an empty selections array if nothing is worth posting.`

// buildPrompt assembles the multimodal prompt for one day's messages.
// Indices in the prompt labels match the positions in the messages
// slice, so the model's selections map straight back onto it. Inline
// images over the embedding limit are skipped with a warning; their
// indices stay reserved so the numbering never shifts.
func buildPrompt(date time.Time, messages []models.InboundMessage) []ContentBlock {
	blocks := []ContentBlock{TextBlock(
		fmt.Sprintf(promptIntro, len(messages), date.Format("January 2, 2006")),
	)}

	for i, msg := range messages {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Email %d\nSubject: %s\nFrom: %s\n", i, msg.Subject, msg.Sender)
		if body := truncateBody(msg.RawText); body != "" {
			fmt.Fprintf(&sb, "Body:\n%s\n", body)
		}
		blocks = append(blocks, TextBlock(sb.String()))

		for j, img := range msg.Images {
			src, ok := imageSource(msg, i, j, img)
			if !ok {
				continue
			}
			blocks = append(blocks,
				TextBlock(fmt.Sprintf("Image %d.%d:", i, j)),
				ContentBlock{Type: "image", Source: src},
			)
		}
	}

	return append(blocks, TextBlock(promptContract))
}

// imageSource converts one stored reference into a model image source.
// Object-store URLs are passed through for the backend to fetch; inline
// references are embedded as base64.
func imageSource(msg models.InboundMessage, emailIdx, imageIdx int, img models.ImageRef) (*ImageSource, bool) {
	if !img.Inline {
		return &ImageSource{Type: "url", URL: img.URL}, true
	}

	data, err := img.InlineData()
	if err != nil {
		slog.Warn("skipping unreadable inline image",
			"message_id", msg.ID,
			"email_index", emailIdx,
			"image_index", imageIdx,
			"error", err,
		)
		return nil, false
	}
	if len(data) > maxEmbeddedImageBytes {
		slog.Warn("skipping oversized inline image",
			"message_id", msg.ID,
			"email_index", emailIdx,
			"image_index", imageIdx,
			"size", len(data),
		)
		return nil, false
	}

	return &ImageSource{
		Type:      "base64",
		MediaType: img.ContentType,
		Data:      inlineBase64(img),
	}, true
}

// inlineBase64 extracts the base64 payload of a data: URL without
// re-encoding.
func inlineBase64(img models.ImageRef) string {
	_, b64, _ := strings.Cut(img.URL, ";base64,")
	return b64
}

func truncateBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= maxBodyChars {
		return body
	}
	// Cut on a rune boundary so multi-byte text stays valid UTF-8.
	cut := maxBodyChars
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
