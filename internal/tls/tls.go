// Package tls builds the API server's *tls.Config from configuration,
// generating a self-signed pair on first start when asked to.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/termexec/internal/config"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

func parseVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// versions defaults both bounds to TLS 1.3.
func versions(cfg config.ServerConfig) (minVer, maxVer uint16, err error) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if cfg.TLSMinVersion != "" && cfg.TLSMinVersion != "default" {
		v, ok := parseVersion(cfg.TLSMinVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls_min_version %q", cfg.TLSMinVersion)
		}
		minVer = v
	}
	if cfg.TLSMaxVersion != "" && cfg.TLSMaxVersion != "default" {
		v, ok := parseVersion(cfg.TLSMaxVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported tls_max_version %q", cfg.TLSMaxVersion)
		}
		maxVer = v
	}
	if minVer > maxVer {
		return 0, 0, errors.New("tls_min_version is above tls_max_version")
	}
	return minVer, maxVer, nil
}

// readWithin refuses to read p when it escapes baseDir.
func readWithin(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the pair on every handshake so rotated certificates
// are picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := readWithin(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := readWithin(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &pair, nil
	}
}

// SetupTLS returns nil, nil when TLS is disabled. Explicit cert_file and
// key_file win over dir; dir is populated when auto_generate is set and
// the pair is missing.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	t := server.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := versions(server)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := t.CertFile, t.KeyFile
	if certPath == "" || keyPath == "" {
		if t.Dir == "" {
			return nil, errors.New("TLS enabled but no valid certificate configuration found")
		}
		certPath, keyPath = filepath.Join(t.Dir, certName), filepath.Join(t.Dir, keyName)
		if t.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(t.AutoGen, t.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("certificate pair %s / %s not found", certPath, keyPath)
	}

	// #nosec G402 minimum version is configurable down to TLS 1.2
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(auto *config.AutoGenTLS, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if auto == nil {
		auto = &config.AutoGenTLS{}
	}
	cc := CertConfig{
		CommonName:   auto.CommonName,
		Organization: auto.Organization,
		DNSNames:     auto.DNSNames,
		IPAddresses:  auto.IPAddresses,
		CertPath:     filepath.Join(dir, certName),
		KeyPath:      filepath.Join(dir, keyName),
		CACertPath:   filepath.Join(dir, caCertName),
	}
	if cc.CommonName == "" {
		cc.CommonName = "localhost"
	}
	if cc.Organization == "" {
		cc.Organization = "termexec"
	}
	if len(cc.DNSNames) == 0 {
		cc.DNSNames = []string{"localhost"}
	}
	if len(cc.IPAddresses) == 0 {
		cc.IPAddresses = []string{"127.0.0.1", "::1"}
	}
	days := auto.ValidDays
	if days <= 0 {
		days = 365
	}
	cc.NotAfter = time.Now().AddDate(0, 0, days)
	return GenerateSelfSignedCert(cc)
}
