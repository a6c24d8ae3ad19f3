package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-dispatcher/internal/recipe"
)

var records = []recipe.Record{
	{PropertyA: "order-1", PropertyB: "<b>late</b>"},
	{PropertyA: "order-2", PropertyB: "on time"},
}

func TestTextRender(t *testing.T) {
	out, err := Text{}.Render(`{{len .}} orders:{{range $i, $r := .}} {{inc $i}}.{{$r.PropertyA}}={{$r.PropertyB}}{{end}}`, records)
	require.NoError(t, err)
	assert.Equal(t, "2 orders: 1.order-1=<b>late</b> 2.order-2=on time", out)
}

func TestHTMLRenderEscapes(t *testing.T) {
	out, err := HTML{}.Render(`<ul>{{range .}}<li>{{.PropertyA}}: {{.PropertyB}}</li>{{end}}</ul>`, records)
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>order-1: &lt;b&gt;late&lt;/b&gt;</li><li>order-2: on time</li></ul>", out)
}

func TestRenderIsDeterministic(t *testing.T) {
	src := `{{range .}}{{upper .PropertyA}};{{end}}`
	first, err := Text{}.Render(src, records)
	require.NoError(t, err)
	second, err := Text{}.Render(src, records)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderErrors(t *testing.T) {
	_, err := Text{}.Render(`{{range .}}`, records)
	assert.Error(t, err, "parse error")

	_, err = HTML{}.Render(`{{.Missing}}`, records)
	assert.Error(t, err, "field on slice")

	_, err = Text{}.Render(`{{index . 5}}`, records)
	assert.Error(t, err, "index out of range")
}

func TestRenderers(t *testing.T) {
	r := Renderers()
	assert.IsType(t, HTML{}, r[recipe.ChannelEmail])
	assert.IsType(t, Text{}, r[recipe.ChannelSMS])
}
