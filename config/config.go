// Package config holds AgentCP's configuration types and a YAML/JSON
// file loader with environment-variable overlay, adapted from the
// teacher's config package (loader.go, env.go).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/acp-sdk/acp-core/internal/logger"
)

// ProxyKind selects the proxy mode AgentCP applies to its HTTP client
// (spec.md §4.14).
type ProxyKind int

const (
	ProxyNone ProxyKind = iota
	ProxyHTTP
	ProxySOCKS5
	ProxySystem
)

// ProxyConfig configures outbound proxying for the CA/AP HTTP client.
type ProxyConfig struct {
	Kind   ProxyKind
	Host   string
	Port   int
	Auth   string
	Bypass []string
}

// TLSConfig configures TLS verification for the CA/AP HTTP client.
type TLSConfig struct {
	Verify          bool
	AllowSelfSigned bool
	CACertPath      string
	ClientCertPath  string
	ClientKeyPath   string
	PinnedCerts     []string
}

// Config is the set of options AgentCP.Initialize recognizes.
type Config struct {
	CABase      string
	APBase      string
	StoragePath string
	LogLevel    logger.Level
	Proxy       ProxyConfig
	TLS         TLSConfig
}

// fileConfig mirrors Config in a YAML/JSON-serializable shape.
type fileConfig struct {
	CABase      string `yaml:"ca_base"`
	APBase      string `yaml:"ap_base"`
	StoragePath string `yaml:"storage_path"`
	LogLevel    string `yaml:"log_level"`

	Proxy struct {
		Kind   string   `yaml:"kind"`
		Host   string   `yaml:"host"`
		Port   int      `yaml:"port"`
		Auth   string   `yaml:"auth"`
		Bypass []string `yaml:"bypass"`
	} `yaml:"proxy"`

	TLS struct {
		Verify          bool     `yaml:"verify"`
		AllowSelfSigned bool     `yaml:"allow_self_signed"`
		CACertPath      string   `yaml:"ca_cert_path"`
		ClientCertPath  string   `yaml:"client_cert_path"`
		ClientKeyPath   string   `yaml:"client_key_path"`
		PinnedCerts     []string `yaml:"pinned_certs"`
	} `yaml:"tls"`
}

var proxyKinds = map[string]ProxyKind{
	"":       ProxyNone,
	"none":   ProxyNone,
	"http":   ProxyHTTP,
	"socks5": ProxySOCKS5,
	"system": ProxySystem,
}

var logLevels = map[string]logger.Level{
	"debug": logger.DebugLevel,
	"info":  logger.InfoLevel,
	"warn":  logger.WarnLevel,
	"error": logger.ErrorLevel,
	"fatal": logger.FatalLevel,
}

// Load reads a YAML (or JSON, since JSON is valid YAML) config file,
// substitutes ${VAR}/${VAR:default} references against the process
// environment, and resolves string enums (log_level, proxy.kind) into
// their Config equivalents.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	expanded := SubstituteEnvVars(string(raw))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	level, ok := logLevels[fc.LogLevel]
	if !ok && fc.LogLevel != "" {
		return Config{}, fmt.Errorf("unknown log_level %q", fc.LogLevel)
	}
	if fc.LogLevel == "" {
		level = logger.InfoLevel
	}

	kind, ok := proxyKinds[fc.Proxy.Kind]
	if !ok {
		return Config{}, fmt.Errorf("unknown proxy.kind %q", fc.Proxy.Kind)
	}

	cfg := Config{
		CABase:      fc.CABase,
		APBase:      fc.APBase,
		StoragePath: fc.StoragePath,
		LogLevel:    level,
		Proxy: ProxyConfig{
			Kind:   kind,
			Host:   fc.Proxy.Host,
			Port:   fc.Proxy.Port,
			Auth:   fc.Proxy.Auth,
			Bypass: fc.Proxy.Bypass,
		},
		TLS: TLSConfig{
			Verify:          fc.TLS.Verify,
			AllowSelfSigned: fc.TLS.AllowSelfSigned,
			CACertPath:      fc.TLS.CACertPath,
			ClientCertPath:  fc.TLS.ClientCertPath,
			ClientKeyPath:   fc.TLS.ClientKeyPath,
			PinnedCerts:     fc.TLS.PinnedCerts,
		},
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = "."
	}
	return cfg, nil
}
