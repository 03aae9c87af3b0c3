// File: internal/llm/caller.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

// ErrExhausted is returned by schema-constrained calls when every retry
// produced output that failed extraction or validation. Plain-text calls
// never return it; they report an empty string instead.
var ErrExhausted = errors.New("retries exhausted without a valid response")

// Client wraps a Provider with the retry, extraction, and validation loop.
// Malformed output triggers a corrective re-prompt; transport and API
// failures abort immediately. Token usage accumulates across every attempt,
// including failed ones, so callers see what a request actually cost.
type Client struct {
	provider   Provider
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a Client around a provider adapter. A non-positive
// maxRetries falls back to 3. rps bounds the request rate; zero disables
// rate limiting.
func NewClient(provider Provider, maxRetries int, rps float64) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		provider:   provider,
		maxRetries: maxRetries,
		limiter:    limiter,
		logger:     observability.GetLogger().Named("llm"),
	}
}

// Provider exposes the underlying adapter.
func (c *Client) Provider() Provider { return c.provider }

// ModelSpec returns the "provider/model" identifier of this client.
func (c *Client) ModelSpec() string {
	return c.provider.Name() + "/" + c.provider.Model()
}

// Call requests free-form text. When every retry yields unusable output the
// result is an empty string with a nil error; accumulated usage is always
// returned.
func (c *Client) Call(ctx context.Context, systemPrompt string, history []Message) (string, UsageStats, error) {
	return c.do(ctx, systemPrompt, history, nil)
}

// CallSchema requests output conforming to a JSON schema and returns the
// extracted, validated JSON text. Exhausting retries without a valid
// document returns ErrExhausted.
func (c *Client) CallSchema(ctx context.Context, systemPrompt string, history []Message, schema map[string]any) (string, UsageStats, error) {
	if schema == nil {
		return "", UsageStats{}, errors.New("CallSchema requires a schema")
	}
	text, usage, err := c.do(ctx, systemPrompt, history, schema)
	if err != nil {
		return "", usage, err
	}
	if text == "" {
		return "", usage, fmt.Errorf("%s: %w", c.ModelSpec(), ErrExhausted)
	}
	return text, usage, nil
}

// CallStructured runs a schema-constrained call and decodes the validated
// JSON into T. It is a function rather than a method so the type parameter
// can flow through.
func CallStructured[T any](ctx context.Context, c *Client, systemPrompt string, history []Message, schema map[string]any) (*T, UsageStats, error) {
	text, usage, err := c.CallSchema(ctx, systemPrompt, history, schema)
	if err != nil {
		return nil, usage, err
	}
	out, err := ParseJSON[T](text)
	if err != nil {
		return nil, usage, fmt.Errorf("decoding validated response: %w", err)
	}
	return out, usage, nil
}

func (c *Client) do(ctx context.Context, systemPrompt string, history []Message, schema map[string]any) (string, UsageStats, error) {
	var usage UsageStats

	var compiled *gojsonschema.Schema
	if schema != nil {
		var err error
		compiled, err = gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return "", usage, fmt.Errorf("compiling response schema: %w", err)
		}
	}

	// Working copy of the wire messages; corrective turns are appended here
	// between attempts without touching the caller's history.
	messages := c.provider.ConvertMessages(history)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", usage, err
			}
		}

		res, err := c.provider.Invoke(ctx, systemPrompt, messages, schema)
		usage.Add(res.Usage)
		if err != nil {
			// Transport and API failures are not the model's fault; a
			// re-prompt cannot fix them.
			return "", usage, fmt.Errorf("%s request failed: %w", c.provider.Name(), err)
		}

		text := strings.TrimSpace(res.Text)
		if text == "" {
			c.logger.Warn("Model returned an empty response.",
				zap.String("model", c.ModelSpec()),
				zap.Int("attempt", attempt))
			messages = append(messages, c.provider.RetryMessages("",
				"Your previous response was empty. Please respond with the requested content.")...)
			continue
		}

		if schema == nil {
			return text, usage, nil
		}

		extracted, err := ExtractJSON(text)
		if err != nil {
			c.logger.Warn("Could not locate JSON in model response.",
				zap.String("model", c.ModelSpec()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			messages = append(messages, c.provider.RetryMessages(text,
				fmt.Sprintf("Your previous response did not contain a parsable JSON object (%v). Respond with only the JSON object.", err))...)
			continue
		}

		validation, err := compiled.Validate(gojsonschema.NewStringLoader(extracted))
		if err != nil {
			c.logger.Warn("Model response is not valid JSON.",
				zap.String("model", c.ModelSpec()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			messages = append(messages, c.provider.RetryMessages(text,
				fmt.Sprintf("Your previous response was not valid JSON (%v). Respond with only the JSON object.", err))...)
			continue
		}
		if !validation.Valid() {
			problems := make([]string, 0, len(validation.Errors()))
			for _, resultErr := range validation.Errors() {
				problems = append(problems, resultErr.String())
			}
			problem := strings.Join(problems, "; ")
			c.logger.Warn("Model response failed schema validation.",
				zap.String("model", c.ModelSpec()),
				zap.Int("attempt", attempt),
				zap.String("problems", truncateString(problem, 500)))
			messages = append(messages, c.provider.RetryMessages(text,
				fmt.Sprintf("Your previous response did not match the required schema: %s. Respond with only a corrected JSON object.", problem))...)
			continue
		}

		return extracted, usage, nil
	}

	c.logger.Error("Exhausted retries without a usable model response.",
		zap.String("model", c.ModelSpec()),
		zap.Int("attempts", c.maxRetries))
	return "", usage, nil
}
