// Package probe implements the readiness check used to decide when the
// inference backend may start receiving traffic.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ReadyPath is the OpenAI-compatible endpoint every vLLM server exposes
// once its model is loaded.
const ReadyPath = "/v1/models"

// DefaultTimeout bounds a single probe request.
const DefaultTimeout = 2 * time.Second

// Prober answers whether the backend is ready. A nil error means ready;
// any error means a single not-ready observation, never a terminal state.
type Prober interface {
	Check(ctx context.Context) error
}

// HTTP probes a URL with GET and treats any 2xx status as ready.
type HTTP struct {
	URL    string
	Client *http.Client
}

// New builds a prober for an explicit URL.
func New(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{URL: url, Client: &http.Client{Timeout: timeout}}
}

// ForPort builds a prober for a backend on the loopback interface.
func ForPort(port int, timeout time.Duration) *HTTP {
	return New(fmt.Sprintf("http://127.0.0.1:%d%s", port, ReadyPath), timeout)
}

// Check issues one GET. Connection errors, timeouts, and non-2xx statuses
// all come back as errors describing the observation; callers are expected
// to absorb them and retry on their own cadence.
func (p *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}
