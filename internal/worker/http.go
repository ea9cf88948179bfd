package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"listing-snapshot-api/internal/model"
)

// HTTPProcessor hands a refresh job to an external fetcher by POSTing
// {"sku": "..."} to its URL. Any 2xx response completes the job.
type HTTPProcessor struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProcessor creates a processor posting to url.
func NewHTTPProcessor(url string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProcessor{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type refreshRequest struct {
	SKU string `json:"sku"`
}

// Process implements Processor.
func (p *HTTPProcessor) Process(ctx context.Context, job *model.Job) error {
	body, err := json.Marshal(refreshRequest{SKU: job.SKU})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", job.SKU, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("refresh %s: status %d: %s", job.SKU, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
