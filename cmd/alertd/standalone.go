package main

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/alert"
	"github.com/qreshi/opensearch-alerting/monitor"
)

// Standalone stand-ins for the search engine collaborators. The daemon has
// no search cluster to talk to; queries echo their own specs back as
// documents, conditions are templates rendering to a boolean, and messages
// render with text/template. Deployments embed the services with real
// implementations instead.

type echoQuery struct{}

func (echoQuery) Query(ctx context.Context, inputs []json.RawMessage, periodStart, periodEnd time.Time) ([]map[string]interface{}, error) {
	results := make([]map[string]interface{}, 0, len(inputs))
	for i, input := range inputs {
		var doc map[string]interface{}
		if err := json.Unmarshal(input, &doc); err != nil {
			return nil, errors.Wrapf(err, "input %d is not a JSON object", i)
		}
		results = append(results, doc)
	}
	return results, nil
}

type templateRenderer struct{}

// Render evaluates a mustache variable template with text/template by
// rewriting {{name}} references to {{.name}} lookups. Mustache sections are
// not supported here.
func (templateRenderer) Render(s monitor.Script, data map[string]interface{}) (string, error) {
	source := strings.ReplaceAll(s.Source, "{{", "{{.")
	tmpl, err := template.New("notification").Option("missingkey=error").Parse(source)
	if err != nil {
		return "", errors.Wrap(err, "invalid template")
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "failed to render template")
	}
	return sb.String(), nil
}

type templateEvaluator struct {
	renderer templateRenderer
}

// EvalTrigger renders the trigger condition and interprets the output as a
// boolean.
func (e templateEvaluator) EvalTrigger(ctx context.Context, ec *alert.EvalContext) (bool, error) {
	out, err := e.renderer.Render(ec.Trigger.Condition, ec.TemplateData())
	if err != nil {
		return false, errors.Wrap(err, "failed to evaluate trigger condition")
	}
	triggered, err := strconv.ParseBool(strings.TrimSpace(out))
	if err != nil {
		return false, errors.Errorf("trigger condition evaluated to %q, want a boolean", out)
	}
	return triggered, nil
}
