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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngBytes is a PNG file signature, enough to verify byte-exact
// attachment handling.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

const rawMIMEMessage = "From: teacher@school.example\r\n" +
	"To: org1@inbox.classgram.example\r\n" +
	"Subject: Museum trip\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"We visited the natural history museum today.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: image/png; name=\"photo.png\"\r\n" +
	"Content-Disposition: attachment; filename=\"photo.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: application/pdf; name=\"permission.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"permission.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0=\r\n" +
	"--BOUNDARY--\r\n"

const rawMIMEInlineImage = "From: teacher@school.example\r\n" +
	"Subject: Inline photo\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/related; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Look at this!</p><img src=\"cid:photo\">\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-ID: <photo>\r\n" +
	"Content-Disposition: inline; filename=\"embedded.png\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--BOUNDARY--\r\n"

func TestDecodeRawMIME(t *testing.T) {
	mail, err := Decode(Payload{Fields: map[string]string{"body-mime": rawMIMEMessage}})
	require.NoError(t, err)

	assert.Contains(t, mail.Text, "natural history museum")
	require.Len(t, mail.Attachments, 1, "only the image part should survive")

	att := mail.Attachments[0]
	assert.Equal(t, "photo.png", att.Filename)
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, pngBytes, att.Content, "attachment bytes must be preserved exactly")
	assert.Equal(t, len(pngBytes), att.Size)
}

func TestDecodeRawMIMEInlineImage(t *testing.T) {
	mail, err := Decode(Payload{Fields: map[string]string{"body-mime": rawMIMEInlineImage}})
	require.NoError(t, err)

	assert.Contains(t, mail.HTML, "Look at this!")
	require.Len(t, mail.Attachments, 1, "inline image parts count as attachments")
	assert.Equal(t, pngBytes, mail.Attachments[0].Content)
}

func TestDecodeSplit(t *testing.T) {
	mail, err := Decode(Payload{Fields: map[string]string{
		"body-plain": "plain body",
		"body-html":  "<p>html body</p>",
	}})
	require.NoError(t, err)

	assert.Equal(t, "plain body", mail.Text)
	assert.Equal(t, "<p>html body</p>", mail.HTML)
	assert.Empty(t, mail.Attachments)
}

func TestDecodeSplitWithFiles(t *testing.T) {
	mail, err := Decode(Payload{
		Fields: map[string]string{"body-plain": "see attached"},
		Files: []File{
			{Name: "photo.png", ContentType: "image/png", Content: pngBytes},
			{Name: "notes.txt", ContentType: "text/plain", Content: []byte("notes")},
		},
	})
	require.NoError(t, err)

	require.Len(t, mail.Attachments, 1, "non-image uploads are dropped")
	assert.Equal(t, "photo.png", mail.Attachments[0].Filename)
	assert.Equal(t, pngBytes, mail.Attachments[0].Content)
}

func TestDecodeUnsupported(t *testing.T) {
	_, err := Decode(Payload{Fields: map[string]string{"unrelated": "x"}})
	assert.ErrorIs(t, err, ErrUnsupportedPayload)
}

func TestDecodeMalformedMIME(t *testing.T) {
	// enmime is lenient; a bare string parses as a headerless body. What
	// matters is that it never yields phantom attachments.
	mail, err := Decode(Payload{Fields: map[string]string{"body-mime": "not a mime message"}})
	if err == nil {
		assert.Empty(t, mail.Attachments)
	}
}
