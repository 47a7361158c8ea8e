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

package models

import (
	"bytes"
	"strings"
	"testing"
)

func TestInlineImageRefRoundTrip(t *testing.T) {
	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

	ref := InlineImageRef(data, "image/png")
	if !ref.Inline {
		t.Error("inline ref not marked inline")
	}
	if !strings.HasPrefix(ref.URL, "data:image/png;base64,") {
		t.Errorf("url = %q", ref.URL)
	}
	if ref.ContentType != "image/png" {
		t.Errorf("content type = %q", ref.ContentType)
	}

	got, err := ref.InlineData()
	if err != nil {
		t.Fatalf("InlineData: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip = %x, want %x", got, data)
	}
}

func TestInlineDataRejectsStoredRefs(t *testing.T) {
	ref := ImageRef{URL: "https://cdn.example/b/t/photo.jpg", ContentType: "image/jpeg"}
	if _, err := ref.InlineData(); err == nil {
		t.Error("expected error for non-data URL")
	}
}
