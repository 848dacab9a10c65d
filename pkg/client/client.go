// Package client is the Go client for the ocrd API server: image uploads to
// POST /v1/ocr plus the liveness and readiness endpoints.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with an ocrd
// server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string        // e.g. http://localhost:8000
	Timeout  time.Duration // whole-request budget; OCR calls can take minutes
	Logger   *slog.Logger  // optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool   // enable TLS
	CACert     string // CA certificate file path
	ClientCert string // client certificate file
	ClientKey  string // client private key file
	ServerName string // server name for verification
	SkipVerify bool   // skip certificate verification
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 3 * time.Minute,
	}
}

// New creates a new ocrd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// Healthy reports whether the server answers its liveness endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Ready queries GET /readyz. Both 200 and 503 decode into a Readiness; an
// error means the server itself could not be reached.
func (c *Client) Ready(ctx context.Context) (Readiness, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return Readiness{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Readiness{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return Readiness{}, c.decodeError(resp)
	}
	var r Readiness
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Readiness{}, fmt.Errorf("decode readiness: %w", err)
	}
	return r, nil
}

// OCRFile submits the image at path and returns the extracted markdown.
func (c *Client) OCRFile(ctx context.Context, path string) (*OCRResult, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return c.OCR(ctx, filepath.Base(path), f)
}

// OCR uploads one image as multipart form data. The part content type is
// derived from the filename extension; the server sniffs the payload when
// that yields nothing usable.
func (c *Client) OCR(ctx context.Context, filename string, r io.Reader) (*OCRResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := createFilePart(mw, filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish form: %w", err)
	}

	c.logger.Debug("submitting OCR request", "file", filename, "bytes", buf.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("OCR request failed", "error", err, "file", filename)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}
	var res OCRResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug("OCR request completed", "file", filename,
		"request_id", res.RequestID, "processing_ms", res.ProcessingMS)
	return &res, nil
}

// createFilePart writes the file part header with a content type matching
// the filename extension instead of the bare application/octet-stream that
// multipart.Writer.CreateFormFile hardcodes.
func createFilePart(mw *multipart.Writer, filename string) (io.Writer, error) {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", ct)
	return mw.CreatePart(hdr)
}

// decodeError turns a non-2xx response into an *APIError, falling back to
// the bare status when the body does not follow the error contract.
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}
	c.logger.Error("API request failed", "status", resp.StatusCode,
		"error_code", apiErr.ErrorCode, "request_id", apiErr.RequestID)
	return apiErr
}

// setupClientTLS configures TLS settings for the HTTP client.
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{} // #nosec G402 -- verification mirrors the caller's config

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads a CA certificate from file and adds it to the TLS config.
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(filepath.Clean(caCertPath))
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}
