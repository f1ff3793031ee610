// Package help renders the "How it Works" panel.
package help

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed how_it_works.md
var source []byte

var (
	once      sync.Once
	rendered  string
	renderErr error
)

// HTML returns the panel body. The markdown is converted once.
func HTML() (string, error) {
	once.Do(func() {
		rendered, renderErr = Render(source)
	})
	return rendered, renderErr
}

// Render converts markdown to HTML. Raw HTML in src is not passed through.
func Render(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("render help: %w", err)
	}
	return buf.String(), nil
}
