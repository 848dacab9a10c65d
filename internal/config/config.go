// Package config loads ocrd settings from an optional TOML file with
// OCR_-prefixed environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ocrd-io/ocrd/internal/backend"
	"github.com/ocrd-io/ocrd/internal/env"
	"github.com/ocrd-io/ocrd/internal/logger"
	"github.com/ocrd-io/ocrd/internal/metrics"
)

// Defaults for the three knobs every deployment touches.
const (
	DefaultAPIPort               = 8000
	DefaultBackendPort           = 8001
	DefaultStartupTimeoutSeconds = 600
)

// DefaultBackendCommand starts a stock vLLM OpenAI-compatible server on the
// loopback interface. ${OCR_VLLM_PORT} resolves in the child's shell from
// the environment the launcher injects.
const DefaultBackendCommand = "python3 -m vllm.entrypoints.openai.api_server --host 127.0.0.1 --port ${OCR_VLLM_PORT}"

// DefaultOCRPrompt asks the model for markdown, which is what the OCR
// response schema carries.
const DefaultOCRPrompt = "Extract all text from this document image as GitHub-flavored Markdown. " +
	"Preserve the reading order, headings, lists and tables. Reply with the markdown only."

// DefaultPIDFile is where the launcher records the backend child so the
// post-handoff API server can find it again. launch and serve are separate
// processes joined by exec, so the location has to be agreed on in config.
func DefaultPIDFile() string {
	return filepath.Join(os.TempDir(), "ocrd-backend.pid")
}

// Config is the top-level TOML structure.
type Config struct {
	APIPort       int      `mapstructure:"api_port"`       // OCR_API_PORT
	Listen        string   `mapstructure:"listen"`         // overrides 0.0.0.0:<api_port> when set
	MetricsListen string   `mapstructure:"metrics_listen"` // optional prometheus listener
	Env           []string `mapstructure:"env"`            // extra child env "K=V"
	EnvFiles      []string `mapstructure:"env_files"`      // KEY=VALUE files merged into the child env

	Log     logger.Config         `mapstructure:"log"`
	Backend backend.Spec          `mapstructure:"backend"`
	VLLM    VLLM                  `mapstructure:"vllm"`
	API     API                   `mapstructure:"api"`
	History History               `mapstructure:"history"`
	Sampler metrics.SamplerConfig `mapstructure:"sampler"`
}

// VLLM configures the backend port, the startup budget, and the client the
// API server uses to talk to it.
type VLLM struct {
	Port                  int     `mapstructure:"port"`                    // OCR_VLLM_PORT
	StartupTimeoutSeconds int     `mapstructure:"startup_timeout_seconds"` // OCR_VLLM_STARTUP_TIMEOUT_SECONDS
	BaseURL               string  `mapstructure:"base_url"`                // default http://127.0.0.1:<port>/v1
	APIKey                string  `mapstructure:"api_key"`
	Model                 string  `mapstructure:"model"` // resolved from the backend when empty
	Prompt                string  `mapstructure:"prompt"`
	MaxTokens             int     `mapstructure:"max_tokens"`
	Temperature           float64 `mapstructure:"temperature"`
	TopP                  float64 `mapstructure:"top_p"`
	TopK                  int     `mapstructure:"top_k"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	VerifyStartup         bool    `mapstructure:"verify_startup"` // vision round-trip before serving
}

// API configures the front-end server.
type API struct {
	MaxUploadBytes int64      `mapstructure:"max_upload_bytes"`
	Command        string     `mapstructure:"command"` // handoff override; default re-execs "ocrd serve"
	TLS            *TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the API listener. Either cert_file/key_file or
// dir must be set; with auto_generate, a missing pair in dir is self-signed
// on startup.
type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`           // holds tls.crt and tls.key
	AutoGenerate bool        `mapstructure:"auto_generate"` // self-sign into dir when missing
	MinVersion   string      `mapstructure:"min_version"`   // "1.2" or "1.3" (default)
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

// AutoGenTLS shapes the self-signed certificate.
type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// History configures best-effort launch event recording.
type History struct {
	Sinks []string `mapstructure:"sinks"` // DSNs: sqlite://, postgres://, clickhouse://, opensearch://
}

// Load reads path (optional; empty means defaults plus environment) and
// applies OCR_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix("ocr")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("listen", "")
	v.SetDefault("metrics_listen", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.capture.dir", "")
	v.SetDefault("log.capture.stdout_path", "")
	v.SetDefault("log.capture.stderr_path", "")
	v.SetDefault("log.capture.max_size_mb", 0)
	v.SetDefault("log.capture.max_backups", 0)
	v.SetDefault("log.capture.max_age_days", 0)
	v.SetDefault("log.capture.compress", false)

	v.SetDefault("backend.name", "vllm")
	v.SetDefault("backend.command", DefaultBackendCommand)
	v.SetDefault("backend.work_dir", "")
	v.SetDefault("backend.env", []string{})
	v.SetDefault("backend.pid_file", DefaultPIDFile())
	v.SetDefault("backend.detached", false)
	v.SetDefault("backend.stop_wait", "5s")

	v.SetDefault("vllm.port", DefaultBackendPort)
	v.SetDefault("vllm.startup_timeout_seconds", DefaultStartupTimeoutSeconds)
	v.SetDefault("vllm.base_url", "")
	v.SetDefault("vllm.api_key", "")
	v.SetDefault("vllm.model", "")
	v.SetDefault("vllm.prompt", DefaultOCRPrompt)
	v.SetDefault("vllm.max_tokens", 4096)
	v.SetDefault("vllm.temperature", 0.0)
	v.SetDefault("vllm.top_p", 1.0)
	v.SetDefault("vllm.top_k", -1)
	v.SetDefault("vllm.request_timeout_seconds", 120)
	v.SetDefault("vllm.verify_startup", false)

	v.SetDefault("api.max_upload_bytes", int64(10<<20))
	v.SetDefault("api.command", "")

	v.SetDefault("history.sinks", []string{})

	v.SetDefault("sampler.enabled", true)
	v.SetDefault("sampler.interval", "5s")
	v.SetDefault("sampler.max_history", 100)
}

// StartupTimeout is the readiness poll budget.
func (c Config) StartupTimeout() time.Duration {
	return time.Duration(c.VLLM.StartupTimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single OCR round trip to the backend.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.VLLM.RequestTimeoutSeconds) * time.Second
}

// BackendBaseURL is the OpenAI-compatible root the API server calls.
func (c Config) BackendBaseURL() string {
	if c.VLLM.BaseURL != "" {
		return strings.TrimRight(c.VLLM.BaseURL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d/v1", c.VLLM.Port)
}

// ListenAddr is the front-end bind address, all interfaces by default.
func (c Config) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return fmt.Sprintf("0.0.0.0:%d", c.APIPort)
}

// BuildEnv composes the base child environment: inherited OS environment
// plus env_files (in order) plus inline env entries. The launcher adds its
// own injected variables on top via env.Env.Set.
func (c Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	for _, f := range c.EnvFiles {
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		for k, val := range pairs {
			e.Set(k, val)
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e, nil
}

// loadEnvFile parses KEY=VALUE lines; blank lines and #-comments are
// skipped. No export keywords, no quoting.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
