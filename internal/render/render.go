// Package render turns record sets into message bodies with Go templates.
package render

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"report-dispatcher/internal/recipe"
)

// Text renders plain-text bodies (SMS).
type Text struct{}

// HTML renders HTML bodies with contextual escaping (email).
type HTML struct{}

// Render executes source with records as dot.
func (Text) Render(source string, records []recipe.Record) (string, error) {
	tmpl, err := texttemplate.New("message").Option("missingkey=error").Funcs(texttemplate.FuncMap(funcs)).Parse(source)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render executes source with records as dot.
func (HTML) Render(source string, records []recipe.Record) (string, error) {
	tmpl, err := htmltemplate.New("message").Option("missingkey=error").Funcs(htmltemplate.FuncMap(funcs)).Parse(source)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// funcs stay pure so the same records always render the same body.
var funcs = map[string]any{
	"inc":   func(i int) int { return i + 1 },
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// Renderers returns the channel to renderer mapping used by the runner.
func Renderers() map[recipe.Channel]recipe.Renderer {
	return map[recipe.Channel]recipe.Renderer{
		recipe.ChannelEmail: HTML{},
		recipe.ChannelSMS:   Text{},
	}
}
