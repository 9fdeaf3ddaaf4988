package costledger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ModelPrice is the USD price per 1K tokens
type ModelPrice struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Pricing maps models to token prices and search providers to flat per-request fees
type Pricing struct {
	Models     map[string]ModelPrice `json:"models"`
	SearchFees map[string]float64    `json:"search_fees"`
}

// DefaultPricing returns the built-in pricing table
func DefaultPricing() Pricing {
	return Pricing{
		Models: map[string]ModelPrice{
			"gpt-4":             {Input: 0.03, Output: 0.06},
			"gpt-4-turbo":       {Input: 0.01, Output: 0.03},
			"gpt-4o":            {Input: 0.005, Output: 0.015},
			"gpt-4o-mini":       {Input: 0.00015, Output: 0.0006},
			"gpt-3.5-turbo":     {Input: 0.0005, Output: 0.0015},
			"claude-3-opus":     {Input: 0.015, Output: 0.075},
			"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
			"claude-3-haiku":    {Input: 0.00025, Output: 0.00125},
			"llama3":            {Input: 0, Output: 0},
			// Token-billed search providers are priced against "<provider>-search"
			"perplexity-search": {Input: 0.001, Output: 0.001},
		},
		SearchFees: map[string]float64{
			"tavily":     0.008,
			"brave":      0.003,
			"serper":     0.001,
			"duckduckgo": 0,
		},
	}
}

// LoadPricing overlays the JSON pricing file at path onto the defaults.
// An empty path returns the defaults.
func LoadPricing(path string) (Pricing, error) {
	p := DefaultPricing()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var override Pricing
	if err := json.Unmarshal(data, &override); err != nil {
		return p, fmt.Errorf("failed to parse pricing file: %w", err)
	}
	for model, price := range override.Models {
		p.Models[strings.ToLower(model)] = price
	}
	for provider, fee := range override.SearchFees {
		p.SearchFees[strings.ToLower(provider)] = fee
	}
	return p, nil
}

// modelPrice looks up a model by exact name, then by the longest known prefix
// so that dated variants such as "gpt-4o-2024-08-06" resolve.
func (p Pricing) modelPrice(model string) (ModelPrice, bool) {
	model = strings.ToLower(model)
	if price, ok := p.Models[model]; ok {
		return price, true
	}
	best := ""
	for name := range p.Models {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return p.Models[best], true
}

func tokenCost(price ModelPrice, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*price.Input + float64(outputTokens)/1000*price.Output
}
