package config

import "fmt"

// Provider is a preset for a known OpenAI-compatible endpoint.
type Provider struct {
	Name         string
	BaseURL      string
	DefaultModel string
}

var providers = map[string]Provider{
	"openai": {
		Name:         "openai",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-3.5-turbo",
	},
	"cerebras": {
		Name:         "cerebras",
		BaseURL:      "https://api.cerebras.ai/v1",
		DefaultModel: "llama3-70b-8192",
	},
	"groq": {
		Name:         "groq",
		BaseURL:      "https://api.groq.com/openai/v1",
		DefaultModel: "llama3-70b-8192",
	},
	"deepseek": {
		Name:         "deepseek",
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-chat",
	},
}

// LookupProvider resolves a preset by name.
func LookupProvider(name string) (Provider, error) {
	p, ok := providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// ProviderNames lists the known presets.
func ProviderNames() []string {
	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	return names
}
