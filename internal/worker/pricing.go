package worker

import "strings"

// modelPricing is USD per million tokens for one Claude model family.
// Cache read tokens cost 0.1x base input; cache write (5-minute TTL)
// tokens cost 1.25x base input.
type modelPricing struct {
	inputPerMillion  float64
	outputPerMillion float64
}

var modelPrefixes = []struct {
	prefix  string
	pricing modelPricing
}{
	{"claude-opus-4-5", modelPricing{5.00, 25.00}},
	{"claude-sonnet-4-5", modelPricing{3.00, 15.00}},
	{"claude-haiku-4-5", modelPricing{1.00, 5.00}},
	{"claude-opus-4-1", modelPricing{15.00, 75.00}},
	{"claude-opus-4", modelPricing{15.00, 75.00}},
	{"claude-sonnet-4", modelPricing{3.00, 15.00}},
	{"claude-3-7-sonnet", modelPricing{3.00, 15.00}},
	{"claude-3-5-sonnet", modelPricing{3.00, 15.00}},
	{"claude-3-5-haiku", modelPricing{0.80, 4.00}},
	{"claude-3-opus", modelPricing{15.00, 75.00}},
	{"claude-3-haiku", modelPricing{0.25, 1.25}},
}

var defaultPricing = modelPricing{inputPerMillion: 3.00, outputPerMillion: 15.00}

// TokenUsage holds token counts for cost calculation.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// CalculateCostWithCache computes the USD cost of usage for model,
// including cache-aware pricing.
func CalculateCostWithCache(model string, usage TokenUsage) float64 {
	p := getPricing(model)
	inputCost := float64(usage.InputTokens) / 1_000_000 * p.inputPerMillion
	cacheReadCost := float64(usage.CacheReadInputTokens) / 1_000_000 * p.inputPerMillion * 0.1
	cacheWriteCost := float64(usage.CacheCreationInputTokens) / 1_000_000 * p.inputPerMillion * 1.25
	outputCost := float64(usage.OutputTokens) / 1_000_000 * p.outputPerMillion
	return inputCost + cacheReadCost + cacheWriteCost + outputCost
}

func getPricing(model string) modelPricing {
	for _, mp := range modelPrefixes {
		if strings.HasPrefix(model, mp.prefix) {
			return mp.pricing
		}
	}
	return defaultPricing
}
