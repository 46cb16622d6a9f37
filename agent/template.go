package agent

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
)

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
}

// TemplateAgent renders a text/template against the node input without
// calling a model. The template sees .Task, .Text, .Parts, .Shared and
// .NodeID.
type TemplateAgent struct {
	id   string
	src  string
	tmpl *template.Template
}

// NewTemplateAgent parses src and returns the agent.
func NewTemplateAgent(id, src string) (*TemplateAgent, error) {
	tmpl, err := template.New(id).Funcs(templateFuncs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template for %s: %w", id, err)
	}
	return &TemplateAgent{id: id, src: src, tmpl: tmpl}, nil
}

func (a *TemplateAgent) ID() string          { return a.id }
func (a *TemplateAgent) Name() string        { return a.id }
func (a *TemplateAgent) Fingerprint() string { return "template:" + a.src }

func (a *TemplateAgent) Invoke(ctx context.Context, in *Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Classify(err)
	}
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, in); err != nil {
		return "", InvalidResponse("render template").WithCause(err)
	}
	return buf.String(), nil
}
