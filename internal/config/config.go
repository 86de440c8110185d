// Package config provides configuration management for the gateway.
// It loads a YAML configuration file, applies AWS_* environment fallbacks
// for the default credential and region, and exposes one immutable snapshot
// per request via an atomic pointer that the watcher swaps on hot reload.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relayforge/bedrock-gateway/internal/auth"
)

// Authentication modes. The two modes are alternative deployment policies
// and are never combined.
const (
	// AuthModeCredentials expects bearer tokens carrying pipe-separated
	// id@secret AWS credential pairs (legacy mode).
	AuthModeCredentials = "credentials"
	// AuthModeSharedKey expects a single API key compared against
	// shared-key; backend calls then use the default credential.
	AuthModeSharedKey = "shared-key"
)

const defaultRegion = "us-west-2"

// Config represents the gateway configuration, loaded from a YAML file.
// A Config value is read-only after Load returns; hot reload produces a
// fresh value rather than mutating a live one.
type Config struct {
	// Host is the network interface the server binds to. Empty binds all.
	Host string `yaml:"host"`
	// Port is the port the server listens on.
	Port int `yaml:"port"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug"`

	// LoggingToFile routes application logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`
	// LogDir is the directory for rotating log files when LoggingToFile is set.
	LogDir string `yaml:"log-dir"`

	// AuthMode selects the inbound authentication policy:
	// "credentials" (default) or "shared-key".
	AuthMode string `yaml:"auth-mode"`
	// SharedKey is the API key for shared-key mode, plaintext or bcrypt hashed.
	SharedKey string `yaml:"shared-key"`

	// DefaultRegion is the region used when neither the route nor the
	// request body specifies one. Falls back to AWS_REGION, then us-west-2.
	DefaultRegion string `yaml:"default-region"`

	// DefaultAccessKeyID and DefaultSecretAccessKey form the process-default
	// credential used when a request carries no parsable credential pairs.
	// Fall back to AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY.
	DefaultAccessKeyID     string `yaml:"default-access-key-id"`
	DefaultSecretAccessKey string `yaml:"default-secret-access-key"`

	// ProxyURL routes backend calls through an HTTP, HTTPS or SOCKS5 proxy.
	ProxyURL string `yaml:"proxy-url"`

	// RuntimeEndpoint overrides the Bedrock runtime endpoint template.
	// %s is replaced with the resolved region.
	RuntimeEndpoint string `yaml:"runtime-endpoint"`
	// ControlEndpoint overrides the Bedrock control-plane endpoint template
	// used for model listing. %s is replaced with the resolved region.
	ControlEndpoint string `yaml:"control-endpoint"`
}

// Load reads and parses the YAML configuration file at path, then fills
// defaults from the environment. A missing file is not an error: the
// gateway can run entirely from environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case os.IsNotExist(err):
		// Env-only configuration.
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.AuthMode == "" {
		c.AuthMode = AuthModeCredentials
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = envOr("AWS_REGION", defaultRegion)
	}
	if c.DefaultAccessKeyID == "" {
		c.DefaultAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if c.DefaultSecretAccessKey == "" {
		c.DefaultSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if c.SharedKey == "" {
		c.SharedKey = os.Getenv("GATEWAY_API_KEY")
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.RuntimeEndpoint == "" {
		c.RuntimeEndpoint = "https://bedrock-runtime.%s.amazonaws.com"
	}
	if c.ControlEndpoint == "" {
		c.ControlEndpoint = "https://bedrock.%s.amazonaws.com"
	}
}

func (c *Config) validate() error {
	switch c.AuthMode {
	case AuthModeCredentials, AuthModeSharedKey:
	default:
		return fmt.Errorf("config: unknown auth-mode %q", c.AuthMode)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}

// DefaultCredential returns the process-default credential set. The fields
// may be empty, in which case backend calls simply fail and surface the
// usual all-attempts-failed error.
func (c *Config) DefaultCredential() auth.CredentialSet {
	return auth.CredentialSet{
		AccessKeyID:     c.DefaultAccessKeyID,
		SecretAccessKey: c.DefaultSecretAccessKey,
	}
}

// Address returns the host:port the server should listen on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
