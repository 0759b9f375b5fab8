package types

import (
	"encoding/json"
	"fmt"
)

// Thought is the Deliberation Agent's structured output for one tick:
// narration plus zero or more commands.
type Thought struct {
	Narration string    `json:"thought"`
	Analysis  string    `json:"analysis"`
	Commands  []Command `json:"-"`
}

type rawThought struct {
	Thought  string `json:"thought"`
	Analysis string `json:"analysis"`
	Commands []struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		Priority string `json:"priority"`
	} `json:"commands"`
}

// ThoughtFromObject builds a Thought out of a parsed response object.
// Commands with an unknown type are dropped rather than failing the whole
// thought; a completely command-less object is still a valid (idle) thought.
func ThoughtFromObject(obj map[string]interface{}) (*Thought, error) {
	if obj == nil {
		return nil, fmt.Errorf("nil thought object")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encoding thought: %w", err)
	}
	var raw rawThought
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding thought: %w", err)
	}

	t := &Thought{
		Narration: raw.Thought,
		Analysis:  raw.Analysis,
	}
	for _, c := range raw.Commands {
		ct, err := ParseCommandType(c.Type)
		if err != nil {
			continue
		}
		t.Commands = append(t.Commands, Command{
			Type:     ct,
			Content:  c.Content,
			Priority: ParsePriority(c.Priority),
		})
	}
	return t, nil
}
