package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// CallbackPusher POSTs events to a recipient's registered callback URL.
type CallbackPusher struct {
	Client   *http.Client
	Attempts int
	Backoff  time.Duration
}

func NewCallbackPusher(timeout time.Duration, attempts int) *CallbackPusher {
	return &CallbackPusher{Client: &http.Client{Timeout: timeout}, Attempts: attempts, Backoff: 200 * time.Millisecond}
}

// Push retries transport errors and non-2xx responses, doubling the wait
// between attempts.
func (p *CallbackPusher) Push(ctx context.Context, url string, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = p.post(ctx, url, b); err == nil {
			return nil
		}
	}
	return fmt.Errorf("callback %s after %d attempts: %w", url, attempts, err)
}

func (p *CallbackPusher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
