// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mwire provides shared configuration for mWire endpoints.
package mwire

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds endpoint configuration loaded from the environment. Each
// endpoint loads its own copy using a distinct prefix.
type Config struct {
	Host           string        `env:"HOST"              envDefault:""`
	Port           string        `env:"PORT"              envDefault:""`
	APIVersion     string        `env:"API_VERSION"       envDefault:"1.0"`
	MaxConnections int           `env:"MAX_CONNECTIONS"   envDefault:"0"`
	MaxFrameSize   uint64        `env:"MAX_FRAME_SIZE"    envDefault:"0"`
	MaxMessageSize uint64        `env:"MAX_MESSAGE_SIZE"  envDefault:"0"`
	RateLimit      int64         `env:"RATE_LIMIT"        envDefault:"0"`
	RateBurst      int64         `env:"RATE_BURST"        envDefault:"0"`
	EnableDeflate  bool          `env:"ENABLE_DEFLATE"    envDefault:"false"`
	Echo           bool          `env:"ECHO"              envDefault:"false"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT"      envDefault:"0"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT"     envDefault:"0"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT"      envDefault:"0"`
	CertFile       string        `env:"CERT_FILE"         envDefault:""`
	KeyFile        string        `env:"KEY_FILE"          envDefault:""`
	ClientCAFile   string        `env:"CLIENT_CA_FILE"    envDefault:""`

	// TLSConfig is built from the certificate files above.
	TLSConfig *tls.Config `env:"-"`
}

// NewConfig loads configuration from the environment using the given
// options, typically a per-endpoint prefix:
//
//	cfg, err := mwire.NewConfig(env.Options{Prefix: "MWIRE_HTTP_"})
func NewConfig(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := c.loadTLS(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// loadTLS builds the TLS configuration when certificate files are set.
// ClientCAFile additionally enables mutual TLS.
func (c *Config) loadTLS() error {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCAFile != "" {
		ca, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return fmt.Errorf("failed to read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return errors.New("failed to parse client CA certificate")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	c.TLSConfig = tlsCfg
	return nil
}
