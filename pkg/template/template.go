// Package template generates starter ocrd.toml files for common
// deployments. The output is meant to be edited, not treated as a schema
// reference; every generated file loads as-is.
package template

import (
	"fmt"
	"strings"
)

// Profile selects a starter configuration shape.
type Profile string

const (
	// ProfileLocal runs everything on one machine with launch history in
	// a local sqlite file.
	ProfileLocal Profile = "local"
	// ProfileGPU sizes the backend command and startup budget for a
	// multi-GPU vLLM deployment.
	ProfileGPU Profile = "gpu"
	// ProfileTLS is the local profile plus HTTPS on the API listener
	// with a self-signed certificate.
	ProfileTLS Profile = "tls"
)

// Options parameterize the generated file.
type Options struct {
	APIPort     int    // defaults to 8000
	BackendPort int    // defaults to 8001
	Model       string // served model id; empty resolves from the backend
}

// Profiles lists the supported profile names.
func Profiles() []string {
	return []string{string(ProfileLocal), string(ProfileGPU), string(ProfileTLS)}
}

// Generate renders the starter config for p.
func Generate(p Profile, opts Options) (string, error) {
	if opts.APIPort == 0 {
		opts.APIPort = 8000
	}
	if opts.BackendPort == 0 {
		opts.BackendPort = 8001
	}
	switch p {
	case ProfileLocal:
		return renderLocal(opts), nil
	case ProfileGPU:
		return renderGPU(opts), nil
	case ProfileTLS:
		return renderLocal(opts) + tlsSection, nil
	default:
		return "", fmt.Errorf("unknown profile %q (supported: %s)", p, strings.Join(Profiles(), ", "))
	}
}

func modelLine(model string) string {
	if model == "" {
		return `# model = ""  # empty resolves the single served model at startup`
	}
	return fmt.Sprintf("model = %q", model)
}

func renderLocal(opts Options) string {
	return fmt.Sprintf(`# ocrd configuration (local profile)
#
# Every key can also be set through the environment with an OCR_ prefix,
# e.g. OCR_API_PORT or OCR_VLLM_STARTUP_TIMEOUT_SECONDS.

api_port = %d
# metrics_listen = "127.0.0.1:9090"

[log]
level = "info"
format = "text"

[backend]
command = "python3 -m vllm.entrypoints.openai.api_server --host 127.0.0.1 --port ${OCR_VLLM_PORT}"
stop_wait = "5s"

[vllm]
port = %d
startup_timeout_seconds = 600
%s
# prompt = "Extract all text from this document image as GitHub-flavored Markdown."

[history]
sinks = ["sqlite:///var/lib/ocrd/history.db"]

[sampler]
enabled = true
interval = "5s"
`, opts.APIPort, opts.BackendPort, modelLine(opts.Model))
}

func renderGPU(opts Options) string {
	return fmt.Sprintf(`# ocrd configuration (gpu profile)
#
# Sized for a multi-GPU vLLM deployment: tensor parallelism, a large
# context window, and a startup budget that covers weight loading.

api_port = %d
metrics_listen = "127.0.0.1:9090"

[log]
level = "info"
format = "json"

[backend]
command = "python3 -m vllm.entrypoints.openai.api_server --host 127.0.0.1 --port ${OCR_VLLM_PORT} --tensor-parallel-size 2 --gpu-memory-utilization 0.90 --max-model-len 16384"
stop_wait = "30s"

[vllm]
port = %d
startup_timeout_seconds = 1200
%s
max_tokens = 8192
request_timeout_seconds = 300

[history]
sinks = ["sqlite:///var/lib/ocrd/history.db"]

[sampler]
enabled = true
interval = "5s"
max_history = 720
`, opts.APIPort, opts.BackendPort, modelLine(opts.Model))
}

const tlsSection = `
[api.tls]
enabled = true
dir = "/etc/ocrd/tls"
auto_generate = true

[api.tls.auto_gen]
common_name = "localhost"
dns_names = ["localhost"]
ip_addresses = ["127.0.0.1"]
valid_days = 365
`
