package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const maxRetries = 3

type client struct {
	url        string
	httpClient *http.Client
	baseDelay  time.Duration
}

// NewClient returns a reputation ledger that POSTs aggregated receipts as
// JSON to url.
func NewClient(url string) ports.ReputationLedger {
	return &client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseDelay:  200 * time.Millisecond,
	}
}

func (c *client) Submit(ctx context.Context, aggregated domain.AggregatedReceipt) error {
	payload, err := json.Marshal(aggregated)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregated receipt: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			select {
			case <-time.After(c.baseDelay * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := c.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		log.WithError(err).WithField("sender", aggregated.Sender).
			Debugf("reputation submission attempt %d failed", attempt+1)
	}
	return fmt.Errorf("failed to submit aggregated receipt: %w", lastErr)
}

func (c *client) post(ctx context.Context, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	// nolint:errcheck
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode >= 500, fmt.Errorf(
		"unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body),
	)
}
