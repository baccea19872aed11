// Package extract turns uploaded contract documents into plain text and
// renders plain text as HTML.
package extract

import (
	"context"
	"html"
	"strings"
)

// Extractor converts raw document bytes into plain text. The filename is a
// format hint; implementations detect the format from its extension.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, data []byte, filename string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	return f(ctx, data, filename)
}

const tabHTML = "&nbsp;&nbsp;&nbsp;&nbsp;"

var htmlReplacer = strings.NewReplacer("\r\n", "<br>", "\n", "<br>", "\t", tabHTML)

// ToHTML renders plain text for display. Markup characters are escaped,
// newlines become <br> and tabs become four non-breaking spaces.
func ToHTML(text string) string {
	return htmlReplacer.Replace(html.EscapeString(text))
}
