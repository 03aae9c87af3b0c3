// File: internal/agent/decider.go
package agent

import (
	"context"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
)

// ClientDecider adapts an llm.Client to the Decider seam, asking for
// structured output against the response schema.
type ClientDecider struct {
	client *llm.Client
	schema map[string]any
}

// NewClientDecider wraps a configured client.
func NewClientDecider(client *llm.Client) *ClientDecider {
	return &ClientDecider{client: client, schema: ResponseSchema()}
}

func (d *ClientDecider) ModelSpec() string { return d.client.ModelSpec() }

func (d *ClientDecider) Decide(ctx context.Context, systemPrompt string, history []llm.Message) (*Response, llm.UsageStats, error) {
	return llm.CallStructured[Response](ctx, d.client, systemPrompt, history, d.schema)
}
