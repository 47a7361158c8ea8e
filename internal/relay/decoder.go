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

package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"
)

// ErrUnsupportedPayload is returned when a payload carries neither a raw
// MIME message nor pre-split text fields.
var ErrUnsupportedPayload = errors.New("unsupported relay payload")

// Attachment is one image attachment extracted from an inbound message.
// Content holds the original bytes unchanged.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Content     []byte
}

// ParsedMail is the decoded content of one inbound message.
type ParsedMail struct {
	Text        string
	HTML        string
	Attachments []Attachment
}

// Decode turns a classified payload into parsed mail content. Only
// image-typed parts are kept as attachments. Pure transformation — no
// side effects.
func Decode(p Payload) (ParsedMail, error) {
	switch Classify(p) {
	case KindRawMIME:
		return decodeMIME(p.Field("body-mime"))

	case KindSplit:
		return ParsedMail{
			Text: p.Field("body-plain"),
			HTML: p.Field("body-html"),
		}, nil

	case KindSplitWithFiles:
		mail := ParsedMail{
			Text: p.Field("body-plain"),
			HTML: p.Field("body-html"),
		}
		for _, f := range p.Files {
			if !isImage(f.ContentType) {
				continue
			}
			mail.Attachments = append(mail.Attachments, Attachment{
				Filename:    f.Name,
				ContentType: f.ContentType,
				Size:        len(f.Content),
				Content:     f.Content,
			})
		}
		return mail, nil

	default:
		return ParsedMail{}, ErrUnsupportedPayload
	}
}

// decodeMIME fully decodes a raw MIME message. Inline image parts count
// as attachments — mail clients routinely embed photos inline.
func decodeMIME(raw string) (ParsedMail, error) {
	env, err := enmime.ReadEnvelope(strings.NewReader(raw))
	if err != nil {
		return ParsedMail{}, fmt.Errorf("decode MIME message: %w", err)
	}

	mail := ParsedMail{
		Text: env.Text,
		HTML: env.HTML,
	}

	for _, part := range append(env.Attachments, env.Inlines...) {
		if part == nil || !isImage(part.ContentType) {
			continue
		}
		mail.Attachments = append(mail.Attachments, Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
			Content:     part.Content,
		})
	}

	return mail, nil
}

func isImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
