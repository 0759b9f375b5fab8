package tools

import (
	"context"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/tmc/langchaingo/tools/scraper"

	"github.com/mudler/LocalEntity/core/tools"
)

func NewScraper() *ScraperAction {
	return &ScraperAction{}
}

type ScraperAction struct{}

func (a *ScraperAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	result := struct {
		URL string `json:"url"`
	}{}
	if err := params.Unmarshal(&result); err != nil {
		return tools.Result{}, err
	}

	sc, err := scraper.New()
	if err != nil {
		return tools.Result{}, err
	}
	res, err := sc.Call(ctx, result.URL)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Output: res}, nil
}

func (a *ScraperAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "scrape_website",
		Description: "Scrapes a full website content and returns the entire site data.",
		Properties: map[string]jsonschema.Definition{
			"url": {
				Type:        jsonschema.String,
				Description: "The website URL.",
			},
		},
		Required: []string{"url"},
		Category: "web",
	}
}
