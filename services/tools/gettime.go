package tools

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/mudler/LocalEntity/core/tools"
)

func NewGetTime() *GetTimeAction {
	return &GetTimeAction{now: time.Now}
}

type GetTimeAction struct {
	now func() time.Time
}

func (a *GetTimeAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	return tools.Result{Output: a.now().Format("2006-01-02 15:04:05")}, nil
}

func (a *GetTimeAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "get_time",
		Description: "Get the current date and time.",
		Properties:  map[string]jsonschema.Definition{},
		Category:    "utility",
	}
}
