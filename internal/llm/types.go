// File: internal/llm/types.go

// Package llm provides a provider-agnostic structured-output caller.
// The retry/validation loop lives once in Client; each provider adapter
// only knows how to convert messages to its wire shape, translate the
// response schema into its dialect, and issue a single request.
package llm

import (
	"context"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImageBlob is a base64-encoded inline image.
type ImageBlob struct {
	MediaType string `json:"media_type"` // e.g. "image/png"
	Data      string `json:"data"`       // base64-encoded
}

// Part is one element of a multimodal message: either text or an image.
type Part struct {
	Text  string     `json:"text,omitempty"`
	Image *ImageBlob `json:"image,omitempty"`
}

// Message is a single turn in the conversation history. Plain-text turns
// set Text; multimodal turns set Parts and leave Text empty.
type Message struct {
	Role  Role   `json:"role"`
	Text  string `json:"text,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// NewTextMessage builds a plain-text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// NewMultipartMessage builds a multimodal message from ordered parts.
func NewMultipartMessage(role Role, parts ...Part) Message {
	return Message{Role: role, Parts: parts}
}

// TextPart builds a text content part.
func TextPart(text string) Part { return Part{Text: text} }

// ImagePart builds an inline image content part.
func ImagePart(mediaType, base64Data string) Part {
	return Part{Image: &ImageBlob{MediaType: mediaType, Data: base64Data}}
}

// IsMultipart reports whether the message carries a parts list.
func (m Message) IsMultipart() bool { return m.Parts != nil }

// HasImage reports whether any part carries an image payload.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Image != nil {
			return true
		}
	}
	return false
}

// TextContent returns the textual content of the message: Text for plain
// messages, the space-joined text parts for multimodal ones.
func (m Message) TextContent() string {
	if !m.IsMultipart() {
		return m.Text
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Image == nil && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

// UsageStats accumulates token counts across one or more API calls.
type UsageStats struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
}

// Add accumulates another UsageStats into this one.
func (u *UsageStats) Add(other UsageStats) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// IsZero reports whether no tokens have been recorded.
func (u UsageStats) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 &&
		u.CacheReadTokens == 0 && u.CacheCreationTokens == 0
}

// Result is the outcome of a single provider request. An empty Text means
// the provider returned no usable content; usage is still recorded.
type Result struct {
	Text  string
	Usage UsageStats
}

// Provider is implemented once per LLM backend. Conversion and dialect
// translation are provider concerns; retry and validation are not.
type Provider interface {
	// Name returns the provider identifier used in model specs ("openai").
	Name() string
	// Model returns the model identifier this adapter was built for.
	Model() string
	// ConvertMessages maps the universal history into the provider's wire
	// shape, inlining images as base64 blobs.
	ConvertMessages(history []Message) []map[string]any
	// RetryMessages builds the wire messages appended before a retry: the
	// model's malformed output echoed as an assistant turn (when non-empty)
	// followed by a user turn describing the problem. Returning both keeps
	// role alternation intact for backends that enforce it.
	RetryMessages(badResponse, problem string) []map[string]any
	// Invoke issues exactly one request. A transport or API failure is
	// returned as an error and is not retried by the caller.
	Invoke(ctx context.Context, systemPrompt string, messages []map[string]any, schema map[string]any) (Result, error)
}
