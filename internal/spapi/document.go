package spapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

const CompressionGzip = "GZIP"

// Decoder downloads report documents from their pre-signed URL and undoes compression.
// It does not know the content type; callers pick JSON or TSV parsing.
type Decoder struct {
	httpClient *http.Client
}

func NewDecoder(httpClient *http.Client) *Decoder {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Decoder{httpClient: httpClient}
}

func (d *Decoder) Download(ctx context.Context, doc *ReportDocument) ([]byte, error) {
	// Pre-signed: no auth header.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}
	res, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download document %s: %w", doc.ReportDocumentID, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", doc.ReportDocumentID, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Op: "downloadDocument", StatusCode: res.StatusCode, Body: string(raw)}
	}

	if strings.EqualFold(strings.TrimSpace(doc.CompressionAlgorithm), CompressionGzip) {
		return Gunzip(raw)
	}
	return raw, nil
}

func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: "gzip", Err: err}
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, &DecodeError{Format: "gzip", Err: err}
	}
	return out, nil
}

func DecodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Format: "json", Err: err}
	}
	return nil
}

// ParseTSV maps each data line to its header's column names. Fewer than two non-blank
// lines (a header plus one row) is an empty result, not an error.
func ParseTSV(data []byte) []map[string]string {
	text := strings.TrimPrefix(string(data), "\ufeff")

	lines := make([]string, 0, 64)
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimRight(ln, "\r")
		if strings.TrimSpace(ln) == "" {
			continue
		}
		lines = append(lines, ln)
	}
	if len(lines) < 2 {
		return nil
	}

	headers := strings.Split(lines[0], "\t")
	for i := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(headers[i]))
	}

	rows := make([]map[string]string, 0, len(lines)-1)
	for _, ln := range lines[1:] {
		fields := strings.Split(ln, "\t")
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(fields) {
				row[h] = strings.TrimSpace(fields[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}
