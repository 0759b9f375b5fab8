package llm

// AgentConfig carries the sampling parameters for one agent's requests.
// Immutable once the agent is constructed.
type AgentConfig struct {
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

// DefaultAgentConfig mirrors the settings agents run with out of the box.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Temperature: 0.7,
		MaxTokens:   1024,
		TopP:        1.0,
	}
}
