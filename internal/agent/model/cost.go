package model

import (
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Pricing is the USD cost per 1M text tokens.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Free reports whether usage under this pricing costs nothing, as for local
// Ollama models and models missing from the table.
func (p Pricing) Free() bool {
	return p.InputPerM == 0 && p.OutputPerM == 0
}

// hosted lists per-model pricing of hosted providers, keyed by model prefix.
var hosted = map[string]Pricing{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
}

// hostedPrefixes holds the keys of hosted, longest first, so the most specific
// prefix wins ("gemini-2.5-flash-lite-001" is a flash-lite model).
var hostedPrefixes = func() []string {
	keys := make([]string, 0, len(hosted))
	for k := range hosted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// ResolvePricing returns the pricing of a model name, matching versioned
// names by prefix. Unknown models are free.
func ResolvePricing(model string) Pricing {
	model = strings.ToLower(strings.TrimPrefix(model, "models/"))
	for _, prefix := range hostedPrefixes {
		if strings.HasPrefix(model, prefix) {
			return hosted[prefix]
		}
	}
	return Pricing{}
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}
