package search

import (
	"fmt"
	"log"
	"strings"
)

// Name identifies a search provider
type Name string

const (
	TavilyName     Name = "tavily"
	BraveName      Name = "brave"
	DuckDuckGoName Name = "duckduckgo"
	SerperName     Name = "serper"
	PerplexityName Name = "perplexity"
)

// Constructor builds a provider
type Constructor func(Settings) (Provider, error)

var constructors = map[Name]Constructor{
	TavilyName:     NewTavily,
	BraveName:      NewBrave,
	DuckDuckGoName: NewDuckDuckGo,
	SerperName:     NewSerper,
	PerplexityName: NewPerplexity,
}

// RequestsPerSecond is the default rate limit per provider
var RequestsPerSecond = map[Name]float64{
	TavilyName:     5,
	BraveName:      1,
	DuckDuckGoName: 1,
	SerperName:     5,
	PerplexityName: 2,
}

// Resolve builds the requested provider, falling back to the default one
// when the requested provider is unknown or misconfigured.
func Resolve(requested, fallback Name, s Settings) (Provider, Name, error) {
	requested = Name(strings.ToLower(string(requested)))
	p, err := build(requested, s)
	if err == nil {
		return p, requested, nil
	}
	if fallback == "" || fallback == requested {
		return nil, "", err
	}

	log.Printf("Failed to initialize search provider %q: %v, falling back to %q", requested, err, fallback)
	p, fbErr := build(fallback, Settings{APIKey: s.APIKey, HTTPClient: s.HTTPClient})
	if fbErr != nil {
		return nil, "", fmt.Errorf("search provider %q: %v; fallback %q: %w", requested, err, fallback, fbErr)
	}
	return p, fallback, nil
}

func build(name Name, s Settings) (Provider, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
	return ctor(s)
}

// Rate returns the configured requests per second for a provider
func Rate(name Name) float64 {
	if r, ok := RequestsPerSecond[name]; ok {
		return r
	}
	return 1
}
