// File: internal/llm/providers_test.go
package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	return decoded
}

func multimodalHistory() []Message {
	return []Message{
		NewMultipartMessage(RoleUser,
			ImagePart("image/png", "aW1hZ2U="),
			TextPart("Current URL: https://example.com"),
		),
		NewTextMessage(RoleAssistant, `{"kind":"wait"}`),
		NewTextMessage(RoleUser, "continue"),
	}
}

func TestOpenAIProvider(t *testing.T) {
	var captured map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeBody(t, r)
		headers = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "{\"kind\": \"click\"}"}}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 20,
			          "prompt_tokens_details": {"cached_tokens": 40}}
		}`))
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", server.URL)

	provider, err := NewOpenAIProvider("gpt-4o", Options{MaxTokens: 1024, Temperature: 0.2}.withDefaults())
	require.NoError(t, err)

	messages := provider.ConvertMessages(multimodalHistory())
	res, err := provider.Invoke(context.Background(), "be brief", messages, testSchema)
	require.NoError(t, err)

	assert.Equal(t, `{"kind": "click"}`, res.Text)
	assert.Equal(t, UsageStats{InputTokens: 100, OutputTokens: 20, CacheReadTokens: 40}, res.Usage)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "gpt-4o", captured["model"])

	wire := captured["messages"].([]any)
	require.Len(t, wire, 4)
	assert.Equal(t, "system", wire[0].(map[string]any)["role"])
	userTurn := wire[1].(map[string]any)
	parts := userTurn["content"].([]any)
	image := parts[0].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Contains(t, image["image_url"].(map[string]any)["url"], "data:image/png;base64,")

	format := captured["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	inner := format["json_schema"].(map[string]any)
	assert.Equal(t, true, inner["strict"])
	strictSchema := inner["schema"].(map[string]any)
	assert.Equal(t, false, strictSchema["additionalProperties"])
}

func TestOpenAIProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "sk-bad")
	t.Setenv("OPENAI_BASE_URL", server.URL)

	provider, err := NewOpenAIProvider("gpt-4o", Options{}.withDefaults())
	require.NoError(t, err)

	_, err = provider.Invoke(context.Background(), "sys", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIProviderMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIProvider("gpt-4o", Options{})
	require.Error(t, err)
}

func TestAnthropicProvider(t *testing.T) {
	var captured map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeBody(t, r)
		headers = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "{\"kind\": \"drag\"}"}],
			"usage": {"input_tokens": 200, "output_tokens": 30,
			          "cache_read_input_tokens": 50, "cache_creation_input_tokens": 10}
		}`))
	}))
	defer server.Close()

	t.Setenv("ANTHROPIC_API_KEY", "ak-test")
	t.Setenv("ANTHROPIC_BASE_URL", server.URL)

	provider, err := NewAnthropicProvider("claude-haiku-4-5", Options{MaxTokens: 2048}.withDefaults())
	require.NoError(t, err)

	messages := provider.ConvertMessages(multimodalHistory())
	res, err := provider.Invoke(context.Background(), "be brief", messages, testSchema)
	require.NoError(t, err)

	assert.Equal(t, `{"kind": "drag"}`, res.Text)
	assert.Equal(t, UsageStats{
		InputTokens: 200, OutputTokens: 30,
		CacheReadTokens: 50, CacheCreationTokens: 10,
	}, res.Usage)

	assert.Equal(t, "ak-test", headers.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, headers.Get("anthropic-version"))

	// No native structured-output mode: schema rides on the system prompt.
	system := captured["system"].(string)
	assert.Contains(t, system, "be brief")
	assert.Contains(t, system, "JSON schema")
	assert.Contains(t, system, `"kind"`)

	wire := captured["messages"].([]any)
	require.Len(t, wire, 3)
	blocks := wire[0].(map[string]any)["content"].([]any)
	imageBlock := blocks[0].(map[string]any)
	assert.Equal(t, "image", imageBlock["type"])
	source := imageBlock["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/png", source["media_type"])

	assert.EqualValues(t, 2048, captured["max_tokens"])
}

func TestAnthropicProviderMissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicProvider("claude-haiku-4-5", Options{})
	require.Error(t, err)
}

func TestGeminiProvider(t *testing.T) {
	var captured map[string]any
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeBody(t, r)
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "{\"kind\": "}, {"text": "\"scroll\"}"}]}}],
			"usageMetadata": {"promptTokenCount": 80, "candidatesTokenCount": 15,
			                  "cachedContentTokenCount": 20}
		}`))
	}))
	defer server.Close()

	t.Setenv("GEMINI_API_KEY", "gk-test")
	t.Setenv("GEMINI_BASE_URL", server.URL)

	provider, err := NewGeminiProvider("gemini-2.5-flash", Options{MaxTokens: 512}.withDefaults())
	require.NoError(t, err)

	messages := provider.ConvertMessages(multimodalHistory())
	res, err := provider.Invoke(context.Background(), "be brief", messages, testSchema)
	require.NoError(t, err)

	// Multi-part candidates concatenate without separators.
	assert.Equal(t, `{"kind": "scroll"}`, res.Text)
	assert.Equal(t, UsageStats{InputTokens: 80, OutputTokens: 15, CacheReadTokens: 20}, res.Usage)

	assert.Contains(t, query, "key=gk-test")

	system := captured["systemInstruction"].(map[string]any)
	parts := system["parts"].([]any)
	assert.Equal(t, "be brief", parts[0].(map[string]any)["text"])

	wire := captured["contents"].([]any)
	require.Len(t, wire, 3)
	assert.Equal(t, "user", wire[0].(map[string]any)["role"])
	assert.Equal(t, "model", wire[1].(map[string]any)["role"])
	userParts := wire[0].(map[string]any)["parts"].([]any)
	inline := userParts[0].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/png", inline["mimeType"])

	genConfig := captured["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genConfig["responseMimeType"])
	responseSchema := genConfig["responseSchema"].(map[string]any)
	_, hasAdditional := responseSchema["additionalProperties"]
	assert.False(t, hasAdditional)
	assert.EqualValues(t, 512, genConfig["maxOutputTokens"])
}

func TestGeminiProviderMissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := NewGeminiProvider("gemini-2.5-flash", Options{})
	require.Error(t, err)
}
