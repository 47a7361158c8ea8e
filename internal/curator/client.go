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

// Package curator turns a day's ingested messages into curated
// caption+image posts by asking a vision-capable language model to pick
// the best moments. The model call is the only non-deterministic stage
// of the digest; everything around it (prompt assembly, response
// parsing, index validation) is plain data transformation.
package curator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// ErrBackendOverloaded is returned when the model backend sheds load.
// The condition is transient; callers retry with backoff.
var ErrBackendOverloaded = errors.New("model backend overloaded")

// ImageSource carries one image into the model, either embedded as
// base64 or as a URL the backend fetches itself.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock is one element of a multimodal prompt.
type ContentBlock struct {
	Type   string       `json:"type"` // "text" or "image"
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the model provider's messages endpoint.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
}

// NewClient creates a model client.
func NewClient(httpClient *http.Client, apiKey, model string, maxTokens int, temperature float64) *Client {
	return &Client{
		httpClient:  httpClient,
		baseURL:     defaultBaseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// NewClientWithBaseURL creates a model client pointed at a custom
// endpoint, used for testing.
func NewClientWithBaseURL(httpClient *http.Client, baseURL, apiKey, model string, maxTokens int, temperature float64) *Client {
	c := NewClient(httpClient, apiKey, model, maxTokens, temperature)
	c.baseURL = baseURL
	return c
}

// Complete sends one user turn to the model and returns the
// concatenated text of its reply. Load-shedding responses surface as
// ErrBackendOverloaded.
func (c *Client) Complete(ctx context.Context, content []ContentBlock) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      systemPrompt,
		Messages:    []message{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}

	// A shedding backend may answer 529 with a non-JSON body; classify
	// on the status code before attempting to decode.
	if resp.StatusCode == 529 {
		return "", ErrBackendOverloaded
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode model response (HTTP %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil && parsed.Error.Type == "overloaded_error" {
		return "", ErrBackendOverloaded
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("model API HTTP %d: %s: %s", resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
		}
		return "", fmt.Errorf("model API HTTP %d", resp.StatusCode)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
