package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/mudler/LocalEntity/core/tools"
)

// WebhookConfig preconfigures where and how send_webhook delivers.
type WebhookConfig struct {
	URL             string
	Method          string
	ContentType     string
	PayloadTemplate string
}

// NewWebhook builds the send_webhook tool from its configuration.
func NewWebhook(cfg WebhookConfig) *WebhookAction {
	wa := &WebhookAction{
		url:             strings.TrimSpace(cfg.URL),
		method:          strings.ToUpper(strings.TrimSpace(cfg.Method)),
		contentType:     strings.TrimSpace(cfg.ContentType),
		payloadTemplate: cfg.PayloadTemplate,
	}
	if wa.method == "" {
		wa.method = http.MethodPost
	}
	return wa
}

type WebhookAction struct {
	url             string
	method          string
	contentType     string
	payloadTemplate string
}

func (a *WebhookAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	in := struct {
		Payload string `json:"payload"`
	}{}
	if err := params.Unmarshal(&in); err != nil {
		return tools.Result{}, err
	}

	if a.url == "" {
		return tools.Result{}, fmt.Errorf("webhook url is not configured")
	}

	payload := in.Payload
	if a.payloadTemplate != "" {
		payload = strings.ReplaceAll(a.payloadTemplate, "{{payload}}", in.Payload)
	}

	var body io.Reader
	if a.method != http.MethodGet && payload != "" {
		body = bytes.NewBufferString(payload)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, a.url, body)
	if err != nil {
		return tools.Result{}, err
	}
	if a.contentType != "" {
		req.Header.Set("Content-Type", a.contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return tools.Result{}, err
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	respBody := string(respBytes)
	if len(respBody) > 4096 {
		respBody = respBody[:4096] + "... (truncated)"
	}
	if respBody == "" {
		respBody = http.StatusText(resp.StatusCode)
	}

	return tools.Result{
		Output:   respBody,
		Metadata: map[string]interface{}{"statusCode": resp.StatusCode},
	}, nil
}

func (a *WebhookAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "send_webhook",
		Description: "Send an HTTP request to the configured URL. Accepts a runtime payload, optionally inserted into the configured payload template.",
		Properties: map[string]jsonschema.Definition{
			"payload": {
				Type:        jsonschema.String,
				Description: "Payload to send with the request. If a payload template is configured, '{{payload}}' is replaced by this value.",
			},
		},
		Category: "network",
	}
}
