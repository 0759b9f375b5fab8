package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Params carries the arguments the model supplied for one tool call.
type Params map[string]interface{}

func (p Params) Read(s string) error {
	return json.Unmarshal([]byte(s), &p)
}

func (p Params) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}

func (p Params) Unmarshal(v interface{}) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	Properties  map[string]jsonschema.Definition
	Required    []string
	Category    string
}

// ParamNames lists the declared parameters, required first, each group
// alphabetical.
func (d Definition) ParamNames() []string {
	required := map[string]bool{}
	for _, r := range d.Required {
		required[r] = true
	}

	var req, opt []string
	for name := range d.Properties {
		if required[name] {
			req = append(req, name)
		} else {
			opt = append(opt, name)
		}
	}
	sort.Strings(req)
	sort.Strings(opt)
	return append(req, opt...)
}

// Result is a successful tool execution's output.
type Result struct {
	Output   string
	Metadata map[string]interface{}
}

// Tool is a capability the execution side can invoke by name.
type Tool interface {
	Run(ctx context.Context, params Params) (Result, error)
	Definition() Definition
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
