// Package vllm is the client for the local OpenAI-compatible inference
// backend: readiness waiting, model resolution, a startup vision check, and
// the OCR chat-completion round trip itself.
package vllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ocrd-io/ocrd/internal/imaging"
)

const (
	verifyPrompt    = "Reply with exactly OK."
	verifyMaxTokens = 8

	// readyProbeTimeout bounds one readiness attempt inside WaitUntilReady.
	readyProbeTimeout = 2 * time.Second
)

// Config holds client configuration.
type Config struct {
	BaseURL      string // OpenAI-compatible root, e.g. http://127.0.0.1:8001/v1
	APIKey       string // optional bearer token
	Model        string // served model id; resolved from the backend when empty
	Prompt       string // OCR instruction sent with every page
	MaxTokens    int
	Temperature  float64
	TopP         float64
	TopK         int
	Timeout      time.Duration // per-request budget
	PollInterval time.Duration // readiness cadence, default 1s
	Verify       bool          // run the vision round trip during StartupCheck
	Logger       *slog.Logger
}

// Client talks to the backend. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	model string
}

// New creates a backend client, filling in workable defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8001/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.TopP == 0 {
		cfg.TopP = 1.0
	}
	if cfg.TopK == 0 {
		cfg.TopK = -1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
		model:  cfg.Model,
	}
}

// Model returns the served model id once known, else the configured one.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Models lists the model ids the backend currently serves.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError("list models", err, time.Since(start))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("list models", resp, time.Since(start))
	}
	var mr modelsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&mr); err != nil {
		return nil, &Error{Message: "decode models response", Class: ClassBadPayload, Latency: time.Since(start), Err: err}
	}
	ids := make([]string, 0, len(mr.Data))
	for _, m := range mr.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// WaitUntilReady polls the models endpoint once per interval until the
// backend answers, the timeout elapses, or ctx is canceled. Individual
// failures are absorbed; the last one is carried in the timeout error.
func (c *Client) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr string
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
		_, err := c.Models(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err.Error()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return &Error{
		Message: "timed out waiting for backend readiness",
		Class:   ClassStartupTimeout,
		Detail:  lastErr,
	}
}

// ResolveModel pins the model id used for requests: the configured one, or
// the first id the backend serves.
func (c *Client) ResolveModel(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.model != "" {
		m := c.model
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	ids, err := c.Models(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", &Error{Message: "backend reports no served models", Class: ClassBadPayload}
	}
	c.mu.Lock()
	c.model = ids[0]
	c.mu.Unlock()
	return ids[0], nil
}

// StartupCheck gates serving: wait for readiness, resolve the model, and
// optionally verify that vision input actually works. A failed or odd
// verification is logged, not fatal; a backend that answers /models but
// cannot do vision still serves plain requests.
func (c *Client) StartupCheck(ctx context.Context, timeout time.Duration) error {
	if err := c.WaitUntilReady(ctx, timeout); err != nil {
		return err
	}
	model, err := c.ResolveModel(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("backend ready", "model", model)
	if !c.cfg.Verify {
		return nil
	}
	reply, err := c.VerifyVision(ctx)
	switch {
	case err != nil:
		c.logger.Warn("vision verification failed", "error", err)
	case !strings.EqualFold(strings.TrimSpace(strings.Trim(reply, ".")), "ok"):
		c.logger.Warn("vision verification got unexpected reply", "reply", reply)
	default:
		c.logger.Info("vision verification ok")
	}
	return nil
}

// VerifyVision sends the built-in probe image through a one-shot chat
// completion and returns the model's reply.
func (c *Client) VerifyVision(ctx context.Context) (string, error) {
	model, err := c.ResolveModel(ctx)
	if err != nil {
		return "", err
	}
	req := chatRequest{
		Model:       model,
		Messages:    []chatMessage{visionMessage(verifyPrompt, imaging.ProbeDataURL())},
		Temperature: 0,
		TopP:        1.0,
		MaxTokens:   verifyMaxTokens,
		TopK:        -1,
	}
	resp, latency, err := c.postChat(ctx, "verify vision", req)
	if err != nil {
		return "", err
	}
	text, ok := resp.content()
	if !ok {
		return "", &Error{Message: "verification reply had no content", Class: ClassBadPayload, Latency: latency}
	}
	return strings.TrimSpace(text), nil
}

// Result is a completed OCR round trip.
type Result struct {
	Markdown string
	Model    string
	Latency  time.Duration
}

// OCR submits one image (as a data URL) and returns the extracted markdown.
func (c *Client) OCR(ctx context.Context, dataURL string) (*Result, error) {
	model, err := c.ResolveModel(ctx)
	if err != nil {
		return nil, err
	}
	req := chatRequest{
		Model:       model,
		Messages:    []chatMessage{visionMessage(c.cfg.Prompt, dataURL)},
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxTokens,
		TopK:        c.cfg.TopK,
	}
	resp, latency, err := c.postChat(ctx, "ocr", req)
	if err != nil {
		return nil, err
	}
	text, ok := resp.content()
	if !ok {
		return nil, &Error{Message: "backend reply had no content", Class: ClassBadPayload, Latency: latency}
	}
	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	return &Result{Markdown: text, Model: respModel, Latency: latency}, nil
}

func (c *Client) postChat(ctx context.Context, op string, body chatRequest) (*chatResponse, time.Duration, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	c.logger.Debug("backend request", "op", op, "model", body.Model, "max_tokens", body.MaxTokens)
	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, c.transportError(op, err, latency)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, latency, c.statusError(op, resp, latency)
	}
	var cr chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&cr); err != nil {
		return nil, latency, &Error{Message: op + ": decode backend response", Class: ClassBadPayload, Latency: latency, Err: err}
	}
	c.logger.Debug("backend response", "op", op, "latency_ms", latency.Milliseconds())
	return &cr, latency, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func (c *Client) transportError(op string, err error, latency time.Duration) *Error {
	class := ClassConnection
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		class = ClassRequestTimeout
	}
	c.logger.Debug("backend request failed", "op", op, "class", class, "error", err)
	return &Error{
		Message: fmt.Sprintf("%s: backend request failed", op),
		Class:   class,
		Latency: latency,
		Err:     err,
	}
}

func (c *Client) statusError(op string, resp *http.Response, latency time.Duration) *Error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	c.logger.Debug("backend returned error status", "op", op, "status", resp.StatusCode)
	return &Error{
		Message:    fmt.Sprintf("%s: backend returned status %d", op, resp.StatusCode),
		Class:      ClassBadStatus,
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Detail:     strings.TrimSpace(string(excerpt)),
	}
}
