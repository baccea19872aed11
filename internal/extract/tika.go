package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
)

// maxErrorBody bounds how much of a failed Tika response is kept for the error.
const maxErrorBody = 512

// TikaExtractor extracts text through an Apache Tika server.
type TikaExtractor struct {
	baseURL string
	client  *http.Client
}

// NewTika creates an extractor for the Tika server at baseURL.
func NewTika(baseURL string, timeout time.Duration) *TikaExtractor {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &TikaExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Extract sends the document to PUT /tika and returns the text body.
func (t *TikaExtractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordExtraction(time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build tika request: %w", err)
	}
	req.Header.Set("Accept", "text/plain; charset=UTF-8")
	req.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(filename)}))
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("tika returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tika response: %w", err)
	}

	logging.Debug("extracted text",
		zap.String("filename", filename),
		zap.Int("bytes", len(data)),
		zap.Int("chars", len(text)),
		zap.Duration("duration", time.Since(start)))
	return string(text), nil
}
