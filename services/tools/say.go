package tools

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/mudler/LocalEntity/core/tools"
)

// NewSayToUser builds the tool that delivers text to the user through the
// provided callback.
func NewSayToUser(callback func(text string)) *SayToUserAction {
	return &SayToUserAction{callback: callback}
}

type SayToUserAction struct {
	callback func(string)
}

func (a *SayToUserAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	result := struct {
		Text string `json:"text"`
	}{}
	if err := params.Unmarshal(&result); err != nil {
		return tools.Result{}, err
	}
	if result.Text == "" {
		return tools.Result{}, fmt.Errorf("text is required")
	}

	if a.callback != nil {
		a.callback(result.Text)
	}
	return tools.Result{Output: result.Text}, nil
}

func (a *SayToUserAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "say_to_user",
		Description: "Say something to the user. Use this for answers and messages.",
		Properties: map[string]jsonschema.Definition{
			"text": {
				Type:        jsonschema.String,
				Description: "The message text for the user.",
			},
		},
		Required: []string{"text"},
		Category: "communication",
	}
}
