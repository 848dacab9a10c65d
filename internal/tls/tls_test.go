package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/ocrd-io/ocrd/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	for _, cfg := range []*config.TLSConfig{nil, {Enabled: false, Dir: "/x"}} {
		got, err := Setup(cfg)
		if err != nil || got != nil {
			t.Fatalf("disabled config: got %v, %v", got, err)
		}
	}
}

func TestSetupWithoutSourcesFails(t *testing.T) {
	if _, err := Setup(&config.TLSConfig{Enabled: true}); err == nil {
		t.Fatal("enabled TLS without cert source must fail")
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		AutoGen:      &config.AutoGenTLS{CommonName: "ocrd-test", ValidDays: 1},
	}
	tc, err := Setup(cfg)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if tc == nil || tc.MinVersion != tls.VersionTLS13 {
		t.Fatalf("unexpected config: %+v", tc)
	}
	for _, name := range []string{certName, keyName, caCertName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not generated: %v", name, err)
		}
	}
	// Key pair must load through the handshake callback.
	cert, err := tc.GetCertificate(nil)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate: %v", err)
	}

	// A second Setup must reuse the existing pair rather than overwrite it.
	before, err := os.ReadFile(filepath.Join(dir, certName)) // #nosec G304
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Setup(cfg); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, err := os.ReadFile(filepath.Join(dir, certName)) // #nosec G304
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("existing certificate was regenerated")
	}
}

func TestSetupMinVersion(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"}
	tc, err := Setup(cfg)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if tc.MinVersion != tls.VersionTLS12 {
		t.Fatalf("min version = %d, want TLS1.2", tc.MinVersion)
	}
}

func TestReadWithinRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "other.pem")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readWithin(dir, outside); err == nil {
		t.Fatal("path outside the certificate directory must be rejected")
	}
}
