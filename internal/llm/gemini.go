// File: internal/llm/gemini.go
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	json "github.com/json-iterator/go"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider talks to the Gemini generateContent REST API. Structured
// output uses generationConfig.responseSchema with the Gemini schema
// dialect; the API has no assistant role, so model turns use "model".
type GeminiProvider struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// NewGeminiProvider reads credentials from GEMINI_API_KEY, with an optional
// GEMINI_BASE_URL override.
func NewGeminiProvider(model string, opts Options) (*GeminiProvider, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	baseURL := strings.TrimSuffix(os.Getenv("GEMINI_BASE_URL"), "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiProvider{
		model:       model,
		apiKey:      apiKey,
		baseURL:     baseURL,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  &http.Client{Timeout: opts.HTTPTimeout},
	}, nil
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

func geminiRole(role Role) string {
	if role == RoleAssistant {
		return "model"
	}
	return "user"
}

// ConvertMessages maps the universal history into Gemini content objects
// with parts lists. Images become inlineData blobs.
func (p *GeminiProvider) ConvertMessages(history []Message) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, msg := range history {
		var parts []map[string]any
		if !msg.IsMultipart() {
			parts = []map[string]any{{"text": msg.Text}}
		} else {
			parts = make([]map[string]any, 0, len(msg.Parts))
			for _, part := range msg.Parts {
				if part.Image != nil {
					parts = append(parts, map[string]any{
						"inlineData": map[string]any{
							"mimeType": part.Image.MediaType,
							"data":     part.Image.Data,
						},
					})
				} else {
					parts = append(parts, map[string]any{"text": part.Text})
				}
			}
		}
		out = append(out, map[string]any{"role": geminiRole(msg.Role), "parts": parts})
	}
	return out
}

func (p *GeminiProvider) RetryMessages(badResponse, problem string) []map[string]any {
	var out []map[string]any
	if badResponse != "" {
		out = append(out, map[string]any{
			"role":  "model",
			"parts": []map[string]any{{"text": badResponse}},
		})
	}
	return append(out, map[string]any{
		"role":  "user",
		"parts": []map[string]any{{"text": problem}},
	})
}

type geminiRequest struct {
	SystemInstruction map[string]any   `json:"systemInstruction,omitempty"`
	Contents          []map[string]any `json:"contents"`
	GenerationConfig  map[string]any   `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount        int `json:"promptTokenCount"`
		CandidatesTokenCount    int `json:"candidatesTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *GeminiProvider) Invoke(ctx context.Context, systemPrompt string, messages []map[string]any, schema map[string]any) (Result, error) {
	genConfig := map[string]any{
		"temperature": p.temperature,
	}
	if p.maxTokens > 0 {
		genConfig["maxOutputTokens"] = p.maxTokens
	}
	if schema != nil {
		translated, err := GeminiSchema(schema)
		if err != nil {
			return Result{}, fmt.Errorf("translating schema: %w", err)
		}
		genConfig["responseMimeType"] = "application/json"
		genConfig["responseSchema"] = translated
	}

	req := geminiRequest{
		Contents:         messages,
		GenerationConfig: genConfig,
	}
	if systemPrompt != "" {
		req.SystemInstruction = map[string]any{
			"parts": []map[string]any{{"text": systemPrompt}},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(p.model), url.QueryEscape(p.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading response: %w", err)
	}

	var parsed geminiResponse
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
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		}
	}
	return Result{
		Text: strings.Join(texts, ""),
		Usage: UsageStats{
			InputTokens:     parsed.UsageMetadata.PromptTokenCount,
			OutputTokens:    parsed.UsageMetadata.CandidatesTokenCount,
			CacheReadTokens: parsed.UsageMetadata.CachedContentTokenCount,
		},
	}, nil
}
