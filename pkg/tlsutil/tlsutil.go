// Package tlsutil builds tls.Config values for the HTTP listener and the NATS connection.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/mathgate/errors"
)

// ServerConfig enables TLS on the HTTP listener
type ServerConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	CertFile   string `json:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile    string `json:"key_file,omitempty" mapstructure:"key_file"`
	MinVersion string `json:"min_version,omitempty" mapstructure:"min_version"` // "1.2" or "1.3"
}

// ClientConfig enables TLS towards NATS.
// The system CA bundle is always trusted; CAFiles are additional CAs.
type ClientConfig struct {
	Enabled            bool     `json:"enabled" mapstructure:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty" mapstructure:"ca_files"`
	CertFile           string   `json:"cert_file,omitempty" mapstructure:"cert_file"`
	KeyFile            string   `json:"key_file,omitempty" mapstructure:"key_file"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" mapstructure:"insecure_skip_verify"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" mapstructure:"min_version"`
}

// Validate checks that an enabled server config names its key pair
func (c ServerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tlsutil", "Validate",
			"cert_file and key_file are required when tls is enabled")
	}
	return validateVersion(c.MinVersion)
}

// Validate checks that a client certificate comes with its key
func (c ClientConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			"cert_file and key_file must be set together")
	}
	return validateVersion(c.MinVersion)
}

// LoadServerTLSConfig returns nil when TLS is disabled
func LoadServerTLSConfig(cfg ServerConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig returns nil when TLS is disabled.
// A configured cert/key pair is presented to the server for mutual TLS.
func LoadClientTLSConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"),
				"tlsutil", "LoadClientTLSConfig", fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

func validateVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			fmt.Sprintf("unsupported min_version %q", version))
	}
}

// parseTLSVersion returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
