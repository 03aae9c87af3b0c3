// File: internal/llm/anthropic.go
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	json "github.com/json-iterator/go"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic messages API. The API has no
// native structured-output mode, so the response schema (with references
// flattened) is appended to the system prompt and the JSON is validated by
// the caller like any other response.
type AnthropicProvider struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewAnthropicProvider reads credentials from ANTHROPIC_API_KEY, with an
// optional ANTHROPIC_BASE_URL override.
func NewAnthropicProvider(model string, opts Options) (*AnthropicProvider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	baseURL := strings.TrimSuffix(os.Getenv("ANTHROPIC_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		// max_tokens is mandatory on this API.
		maxTokens = 4096
	}
	return &AnthropicProvider{
		model:       model,
		apiKey:      apiKey,
		baseURL:     baseURL,
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
		httpClient:  &http.Client{Timeout: opts.HTTPTimeout},
	}, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// ConvertMessages maps the universal history into messages-API content
// blocks. Plain text still becomes a one-element block list so retry turns
// and history turns share a shape.
func (p *AnthropicProvider) ConvertMessages(history []Message) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, msg := range history {
		out = append(out, map[string]any{
			"role":    string(msg.Role),
			"content": anthropicContent(msg),
		})
	}
	return out
}

func anthropicContent(msg Message) []map[string]any {
	if !msg.IsMultipart() {
		return []map[string]any{{"type": "text", "text": msg.Text}}
	}
	blocks := make([]map[string]any, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if part.Image != nil {
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": part.Image.MediaType,
					"data":       part.Image.Data,
				},
			})
		} else {
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
		}
	}
	return blocks
}

func (p *AnthropicProvider) RetryMessages(badResponse, problem string) []map[string]any {
	var out []map[string]any
	if badResponse != "" {
		out = append(out, map[string]any{
			"role":    "assistant",
			"content": []map[string]any{{"type": "text", "text": badResponse}},
		})
	}
	return append(out, map[string]any{
		"role":    "user",
		"content": []map[string]any{{"type": "text", "text": problem}},
	})
}

type anthropicRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []map[string]any `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Invoke(ctx context.Context, systemPrompt string, messages []map[string]any, schema map[string]any) (Result, error) {
	system := systemPrompt
	if schema != nil {
		flattened, err := FlattenRefs(schema)
		if err != nil {
			return Result{}, fmt.Errorf("translating schema: %w", err)
		}
		schemaJSON, err := json.MarshalIndent(flattened, "", "  ")
		if err != nil {
			return Result{}, fmt.Errorf("encoding schema: %w", err)
		}
		system += "\n\nYou must respond with a single JSON object matching this JSON schema, with no other text:\n" + string(schemaJSON)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		System:      system,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Result{}, mapHTTPStatus(resp.StatusCode, truncateString(string(respBody), 300))
		}
		return Result{}, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := truncateString(string(respBody), 300)
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		return Result{}, mapHTTPStatus(resp.StatusCode, detail)
	}

	var texts []string
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return Result{
		Text: strings.Join(texts, "\n"),
		Usage: UsageStats{
			InputTokens:         parsed.Usage.InputTokens,
			OutputTokens:        parsed.Usage.OutputTokens,
			CacheReadTokens:     parsed.Usage.CacheReadInputTokens,
			CacheCreationTokens: parsed.Usage.CacheCreationInputTokens,
		},
	}, nil
}
