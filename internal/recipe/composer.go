package recipe

import "errors"

// Message is the rendered subject and body for one channel.
type Message struct {
	Subject string
	Body    string
}

// Composer renders record sets through per-channel templates.
type Composer struct {
	renderers map[Channel]Renderer
}

// NewComposer builds a composer using one renderer per channel.
func NewComposer(renderers map[Channel]Renderer) *Composer {
	return &Composer{renderers: renderers}
}

// Compose renders every template of def once against records.
func (c *Composer) Compose(def Definition, records []Record) (map[Channel]Message, error) {
	out := make(map[Channel]Message, len(def.Templates))
	for _, ch := range Channels {
		source, ok := def.Templates[ch]
		if !ok {
			continue
		}
		renderer, ok := c.renderers[ch]
		if !ok {
			return nil, &RenderError{Channel: ch, Err: errors.New("no renderer configured")}
		}
		body, err := renderer.Render(source, records)
		if err != nil {
			return nil, &RenderError{Channel: ch, Err: err}
		}
		out[ch] = Message{Subject: def.Subject, Body: body}
	}
	return out, nil
}
