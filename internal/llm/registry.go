// File: internal/llm/registry.go
package llm

import (
	"fmt"
	"strings"
	"time"
)

// Options carries the request parameters shared by every provider adapter.
type Options struct {
	MaxTokens   int
	Temperature float64
	HTTPTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = defaultHTTPTimeout
	}
	return o
}

// ParseModelSpec splits a "provider/model" spec. The model part may itself
// contain slashes (e.g. openrouter-style paths), so only the first slash
// separates.
func ParseModelSpec(spec string) (provider, model string, err error) {
	provider, model, found := strings.Cut(spec, "/")
	if !found || provider == "" || model == "" {
		return "", "", fmt.Errorf("invalid model spec %q: expected \"provider/model\"", spec)
	}
	return provider, model, nil
}

// NewProvider constructs the adapter named by a "provider/model" spec.
// Unknown providers and missing credentials are construction errors.
func NewProvider(spec string, opts Options) (Provider, error) {
	providerName, model, err := ParseModelSpec(spec)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	switch providerName {
	case "openai":
		return NewOpenAIProvider(model, opts)
	case "anthropic":
		return NewAnthropicProvider(model, opts)
	case "gemini":
		return NewGeminiProvider(model, opts)
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: openai, anthropic, gemini)", providerName)
	}
}

// NewClientFromSpec builds a retrying Client for a "provider/model" spec.
func NewClientFromSpec(spec string, opts Options, maxRetries int, rps float64) (*Client, error) {
	provider, err := NewProvider(spec, opts)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, maxRetries, rps), nil
}
