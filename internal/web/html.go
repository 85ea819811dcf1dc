// Package web renders processed markdown to HTML and serves a live
// preview that reloads connected browsers when the source file changes.
package web

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/FocuswithJustin/readmetex/core/errors"
)

// converter is configured once: GitHub-flavored extensions plus raw HTML
// passthrough, since the rewritten document embeds img tags directly.
var converter = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// RenderHTML converts rewritten markdown to a standalone HTML fragment.
func RenderHTML(markdown []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := converter.Convert(markdown, &buf); err != nil {
		return nil, errors.Wrap(err, "rendering HTML")
	}
	return buf.Bytes(), nil
}
