package llm

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// Name identifies an LLM provider
type Name string

const (
	OpenAIName    Name = "openai"
	AnthropicName Name = "anthropic"
	OllamaName    Name = "ollama"
)

// Constructor builds a provider client
type Constructor func(Settings) (Client, error)

var constructors = map[Name]Constructor{
	OpenAIName:    NewOpenAI,
	AnthropicName: NewAnthropic,
	OllamaName:    NewOllama,
}

// Providers lists the supported provider names
func Providers() []Name {
	names := make([]Name, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Resolve builds the requested provider, falling back to the default
// provider when the requested one is unknown or fails to construct.
// The fallback keeps the HTTP client and API key but uses its own
// default model and endpoint.
func Resolve(requested, fallback Name, s Settings) (Client, Name, error) {
	requested = Name(strings.ToLower(string(requested)))
	client, err := build(requested, s)
	if err == nil {
		return client, requested, nil
	}
	if fallback == "" || fallback == requested {
		return nil, "", err
	}

	log.Printf("Failed to initialize LLM provider %q: %v, falling back to %q", requested, err, fallback)
	client, fbErr := build(fallback, Settings{APIKey: s.APIKey, HTTPClient: s.HTTPClient})
	if fbErr != nil {
		return nil, "", fmt.Errorf("llm provider %q: %v; fallback %q: %w", requested, err, fallback, fbErr)
	}
	return client, fallback, nil
}

func build(name Name, s Settings) (Client, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	return ctor(s)
}
