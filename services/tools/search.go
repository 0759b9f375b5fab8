package tools

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/tmc/langchaingo/tools/duckduckgo"
	"mvdan.cc/xurls/v2"

	"github.com/mudler/LocalEntity/core/tools"
)

const MetadataUrls = "urls"

func NewSearch(results int) *SearchAction {
	if results <= 0 {
		results = 1
	}
	return &SearchAction{results: results}
}

type SearchAction struct{ results int }

func (a *SearchAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	result := struct {
		Query string `json:"query"`
	}{}
	if err := params.Unmarshal(&result); err != nil {
		return tools.Result{}, err
	}

	ddg, err := duckduckgo.New(a.results, "LocalEntity")
	if err != nil {
		return tools.Result{}, err
	}
	res, err := ddg.Call(ctx, result.Query)
	if err != nil {
		return tools.Result{}, err
	}

	rxStrict := xurls.Strict()
	urls := rxStrict.FindAllString(res, -1)

	cleaned := []string{}
	for _, u := range urls {
		u = strings.ReplaceAll(u, "//duckduckgo.com/l/?uddg=", "")
		u = strings.Split(u, "&rut=")[0]
		cleaned = append(cleaned, u)
	}

	return tools.Result{Output: res, Metadata: map[string]interface{}{MetadataUrls: cleaned}}, nil
}

func (a *SearchAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "web_search",
		Description: "Search the internet for something.",
		Properties: map[string]jsonschema.Definition{
			"query": {
				Type:        jsonschema.String,
				Description: "The query to search for.",
			},
		},
		Required: []string{"query"},
		Category: "web",
	}
}
