package tools

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"jaytaylor.com/html2text"

	"github.com/mudler/LocalEntity/core/tools"
)

func NewBrowse() *BrowseAction {
	return &BrowseAction{}
}

type BrowseAction struct{}

func (a *BrowseAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	result := struct {
		URL string `json:"url"`
	}{}
	if err := params.Unmarshal(&result); err != nil {
		return tools.Result{}, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: false},
			DisableKeepAlives: false,
			// Force HTTP/1.1 to avoid HTTP/2 stream errors
			ForceAttemptHTTP2: false,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.URL, nil)
	if err != nil {
		return tools.Result{}, err
	}

	// Browser-like headers to avoid bot detection
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return tools.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return tools.Result{}, fmt.Errorf("website returned error %d: %s", resp.StatusCode, resp.Status)
	}

	pagebyte, err := io.ReadAll(resp.Body)
	if err != nil {
		return tools.Result{}, err
	}

	if len(pagebyte) < 100 {
		return tools.Result{}, fmt.Errorf("website returned insufficient content (likely blocked or error page)")
	}

	rendered, err := html2text.FromString(string(pagebyte), html2text.Options{
		PrettyTables: true,
	})
	if err != nil {
		return tools.Result{}, err
	}

	if len(rendered) < 50 {
		return tools.Result{}, fmt.Errorf("page content too short after conversion (likely JavaScript-only or blocked content)")
	}

	if len(rendered) > 8000 {
		rendered = rendered[:8000] + "\n\n[Content truncated to prevent overwhelming response...]"
	}

	return tools.Result{Output: fmt.Sprintf("Successfully browsed '%s':\n\n%s", result.URL, rendered)}, nil
}

func (a *BrowseAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "browse_webpage",
		Description: "Visit an URL. It browses a website page and returns the text content.",
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
