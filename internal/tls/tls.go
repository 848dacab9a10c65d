// Package tls builds the server-side TLS configuration for the OCR API
// listener, including self-signed certificates for lab deployments.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocrd-io/ocrd/internal/config"
)

// Certificate file names inside a [api.tls] dir.
const (
	certName   = "tls.crt"
	keyName    = "tls.key"
	caCertName = "tls_ca.crt"
)

// Setup turns the [api.tls] section into a *tls.Config. A nil or disabled
// section yields (nil, nil), meaning plain HTTP.
func Setup(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	minVer := minVersion(cfg.MinVersion)

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return reloadingConfig(cfg.CertFile, cfg.KeyFile, minVer), nil
	}
	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, certName)
		keyPath := filepath.Join(cfg.Dir, keyName)
		if cfg.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generatePair(cfg, certPath, keyPath); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
		return reloadingConfig(certPath, keyPath, minVer), nil
	}
	return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
}

func minVersion(v string) uint16 {
	switch strings.ToLower(v) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS13
	}
}

// reloadingConfig loads the key pair per handshake so certificates can be
// rotated in place without a server restart.
func reloadingConfig(certFile, keyFile string, minVer uint16) *tls.Config {
	baseDir := filepath.Dir(certFile)
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := readWithin(baseDir, certFile)
			if err != nil {
				return nil, err
			}
			key, err := readWithin(baseDir, keyFile)
			if err != nil {
				return nil, err
			}
			pair, err := tls.X509KeyPair(cert, key)
			if err != nil {
				return nil, err
			}
			return &pair, nil
		},
	}
}

// readWithin refuses paths that escape the certificate directory.
func readWithin(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	absFile, err := filepath.Abs(clean)
	if err != nil {
		return nil, err
	}
	if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside the certificate directory", p)
	}
	return os.ReadFile(clean)
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generatePair(cfg *config.TLSConfig, certPath, keyPath string) error {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return err
	}
	auto := cfg.AutoGen
	if auto == nil {
		auto = &config.AutoGenTLS{}
	}
	spec := CertSpec{
		CommonName:   auto.CommonName,
		Organization: auto.Organization,
		DNSNames:     auto.DNSNames,
		IPAddresses:  auto.IPAddresses,
		CertPath:     certPath,
		KeyPath:      keyPath,
		CACertPath:   filepath.Join(cfg.Dir, caCertName),
	}
	if spec.CommonName == "" {
		spec.CommonName = "localhost"
	}
	if spec.Organization == "" {
		spec.Organization = "ocrd"
	}
	if len(spec.DNSNames) == 0 {
		spec.DNSNames = []string{"localhost"}
	}
	if len(spec.IPAddresses) == 0 {
		spec.IPAddresses = []string{"127.0.0.1"}
	}
	validDays := auto.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	spec.NotAfter = time.Now().AddDate(0, 0, validDays)
	return SelfSigned(spec)
}
