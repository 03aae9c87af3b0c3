// File: internal/pricing/pricing.go

// Package pricing estimates dollar cost from token usage against a
// hardcoded per-model rate table.
package pricing

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
)

// ModelPricing holds dollar rates per one million tokens.
type ModelPricing struct {
	Input         float64
	Output        float64
	CacheRead     float64
	CacheCreation float64
}

// table maps model-name substrings to rates. Lookup is longest-match-first
// so "gpt-4o-mini" wins over "gpt-4o".
var table = map[string]ModelPricing{
	"gemini-3-flash-preview": {0.50, 3.00, 0.05, 0},
	"gemini-2.0-flash-lite":  {0.075, 0.30, 0, 0},
	"gemini-2.5-flash-lite":  {0.10, 0.40, 0.01, 0},
	"gemini-3-pro-preview":   {2.00, 12.00, 0.20, 0},
	"claude-sonnet-4-5":      {3.0, 15.0, 0.30, 3.75},
	"claude-haiku-4-5":       {1.0, 5.0, 0.10, 1.25},
	"gemini-2.0-flash":       {0.15, 0.60, 0, 0},
	"gemini-2.5-flash":       {0.30, 2.50, 0.030, 0},
	"claude-opus-4-5":        {5.0, 25.0, 0.50, 6.25},
	"claude-opus-4-6":        {5.0, 25.0, 0.50, 6.25},
	"claude-sonnet-4":        {3.0, 15.0, 0.30, 3.75},
	"gemini-2.5-pro":         {1.25, 10.00, 0.125, 0},
	"gpt-4o-mini":            {0.15, 0.60, 0, 0},
	"gpt-4o":                 {2.50, 10.0, 0, 0},
}

// keysByLength caches the table keys sorted longest first, with a name
// tiebreak so matching order is deterministic.
var keysByLength = func() []string {
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Lookup finds the rates for a model name by longest substring match.
func Lookup(model string) (ModelPricing, bool) {
	for _, key := range keysByLength {
		if strings.Contains(model, key) {
			return table[key], true
		}
	}
	return ModelPricing{}, false
}

// EstimateCost returns the estimated dollar cost of the usage, or false
// when the model has no pricing entry.
func EstimateCost(model string, usage llm.UsageStats) (float64, bool) {
	rates, ok := Lookup(model)
	if !ok {
		return 0, false
	}
	cost := (float64(usage.InputTokens)*rates.Input +
		float64(usage.OutputTokens)*rates.Output +
		float64(usage.CacheReadTokens)*rates.CacheRead +
		float64(usage.CacheCreationTokens)*rates.CacheCreation) / 1e6
	return cost, true
}
