package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned by the built-in extractor for formats it
// cannot read without a Tika server.
var ErrUnsupported = errors.New("format not supported by built-in extractor")

// ErrDocumentTooLarge is returned when word/document.xml inflates past the
// extractor's limit.
var ErrDocumentTooLarge = errors.New("docx document body too large")

// DefaultMaxDocumentSize caps the decompressed size of word/document.xml.
const DefaultMaxDocumentSize = 64 << 20

// DocxExtractor reads the text runs of word/document.xml. It is used when no
// Tika server is configured; other formats fail with ErrUnsupported.
type DocxExtractor struct {
	// MaxDocumentSize limits the inflated document body. Zero means
	// DefaultMaxDocumentSize.
	MaxDocumentSize int64
}

// Extract implements Extractor.
func (d DocxExtractor) Extract(_ context.Context, data []byte, filename string) (string, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".docx") {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(filename))
	}

	limit := d.MaxDocumentSize
	if limit <= 0 {
		limit = DefaultMaxDocumentSize
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		if f.UncompressedSize64 > uint64(limit) {
			return "", fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, f.UncompressedSize64)
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()

		// Read is capped independently of the header size.
		body, err := io.ReadAll(io.LimitReader(rc, limit+1))
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		if int64(len(body)) > limit {
			return "", fmt.Errorf("%w: over %d bytes", ErrDocumentTooLarge, limit)
		}
		return documentText(bytes.NewReader(body))
	}
	return "", fmt.Errorf("docx has no word/document.xml")
}

// documentText walks WordprocessingML: <w:t> carries text, <w:tab/> a tab,
// <w:br/> and the end of each <w:p> a newline.
func documentText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
