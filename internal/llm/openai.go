// File: internal/llm/openai.go
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	openAISchemaName     = "agent_response"
)

// OpenAIProvider talks to the OpenAI chat completions API. Structured
// output uses the strict json_schema response format, so the schema is
// translated with StrictSchema before each request.
type OpenAIProvider struct {
	model       string
	apiKey      string
	baseURL     string
	org         string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewOpenAIProvider reads credentials from OPENAI_API_KEY (and the optional
// OPENAI_BASE_URL / OPENAI_ORGANIZATION overrides). A missing key is a
// construction error so misconfiguration surfaces before the first step.
func NewOpenAIProvider(model string, opts Options) (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	baseURL := strings.TrimSuffix(os.Getenv("OPENAI_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		model:       model,
		apiKey:      apiKey,
		baseURL:     baseURL,
		org:         os.Getenv("OPENAI_ORGANIZATION"),
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  &http.Client{Timeout: opts.HTTPTimeout},
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// ConvertMessages maps the universal history into chat-completions message
// objects. Multimodal turns become content-part arrays with data URLs.
func (p *OpenAIProvider) ConvertMessages(history []Message) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, msg := range history {
		if !msg.IsMultipart() {
			out = append(out, map[string]any{"role": string(msg.Role), "content": msg.Text})
			continue
		}
		parts := make([]map[string]any, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			if part.Image != nil {
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": fmt.Sprintf("data:%s;base64,%s", part.Image.MediaType, part.Image.Data),
					},
				})
			} else {
				parts = append(parts, map[string]any{"type": "text", "text": part.Text})
			}
		}
		out = append(out, map[string]any{"role": string(msg.Role), "content": parts})
	}
	return out
}

func (p *OpenAIProvider) RetryMessages(badResponse, problem string) []map[string]any {
	var out []map[string]any
	if badResponse != "" {
		out = append(out, map[string]any{"role": "assistant", "content": badResponse})
	}
	return append(out, map[string]any{"role": "user", "content": problem})
}

type openAIRequest struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	Temperature    float64          `json:"temperature"`
	ResponseFormat map[string]any   `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Invoke(ctx context.Context, systemPrompt string, messages []map[string]any, schema map[string]any) (Result, error) {
	wire := make([]map[string]any, 0, len(messages)+1)
	if systemPrompt != "" {
		wire = append(wire, map[string]any{"role": "system", "content": systemPrompt})
	}
	wire = append(wire, messages...)

	req := openAIRequest{
		Model:       p.model,
		Messages:    wire,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
	if schema != nil {
		req.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   openAISchemaName,
				"strict": true,
				"schema": StrictSchema(schema),
			},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.org != "" {
		httpReq.Header.Set("OpenAI-Organization", p.org)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed openAIResponse
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

	result := Result{
		Usage: UsageStats{
			InputTokens:     parsed.Usage.PromptTokens,
			OutputTokens:    parsed.Usage.CompletionTokens,
			CacheReadTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		},
	}
	if len(parsed.Choices) > 0 {
		result.Text = parsed.Choices[0].Message.Content
	}
	return result, nil
}

// mapHTTPStatus turns a non-2xx status into a descriptive error shared by
// all adapters.
func mapHTTPStatus(status int, detail string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("authentication failed (HTTP %d): %s", status, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (HTTP 429): %s", detail)
	case http.StatusBadRequest:
		return fmt.Errorf("invalid request (HTTP 400): %s", detail)
	default:
		if status >= 500 {
			return fmt.Errorf("server error (HTTP %d): %s", status, detail)
		}
		return fmt.Errorf("unexpected status HTTP %d: %s", status, detail)
	}
}

// deadline-aware default for adapter HTTP clients when the caller does not
// configure one.
const defaultHTTPTimeout = 120 * time.Second
