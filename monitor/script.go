package monitor

import (
	"github.com/qreshi/opensearch-alerting/wire"
)

// Template language accepted for notification subject and message templates.
const LangMustache = "mustache"

// Script is a source string tagged with the language it is written in.
// Notification templates must be mustache; trigger conditions carry whatever
// language the query engine evaluates and are opaque to this module.
type Script struct {
	Lang   string `json:"lang"`
	Source string `json:"source"`
}

// NewTemplate returns a mustache template script.
func NewTemplate(source string) Script {
	return Script{Lang: LangMustache, Source: source}
}

// validateTemplate rejects scripts that are not renderable templates.
func (s Script) validateTemplate() error {
	if s.Lang != LangMustache {
		return invalidConfigf("template language must be %q, got %q", LangMustache, s.Lang)
	}
	return nil
}

func (s Script) writeTo(w *wire.Writer) {
	w.WriteString(s.Lang)
	w.WriteString(s.Source)
}

func readScript(r *wire.Reader) (Script, error) {
	var s Script
	var err error
	if s.Lang, err = r.ReadString(); err != nil {
		return Script{}, err
	}
	if s.Source, err = r.ReadString(); err != nil {
		return Script{}, err
	}
	return s, nil
}
