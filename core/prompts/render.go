package prompts

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

func templateBase(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(sprig.FuncMap()).Parse(text)
}

// Render executes a named template against data.
func Render(name, text string, data interface{}) (string, error) {
	tmpl, err := templateBase(name, text)
	if err != nil {
		return "", err
	}
	out := bytes.NewBuffer([]byte{})
	if err := tmpl.Execute(out, data); err != nil {
		return "", err
	}
	return out.String(), nil
}
