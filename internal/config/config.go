// Package config loads the operator's YAML configuration: where the
// ledger lives, which templates to use, the seller address book and the
// delivery bounds.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML values like "10s" or "300ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Delivery bounds the delivery state machine.
type Delivery struct {
	OpenTimeout  Duration `yaml:"open_timeout"`
	SendTimeout  Duration `yaml:"send_timeout"`
	SendRetries  int      `yaml:"send_retries"`
	RetryBackoff Duration `yaml:"retry_backoff"`
	MaxAttempts  int      `yaml:"max_attempts"`
}

// Breaker configures the channel circuit breaker.
type Breaker struct {
	Threshold uint32   `yaml:"threshold"`
	Cooldown  Duration `yaml:"cooldown"`
}

// Feed configures the NATS Streaming record feed.
type Feed struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
	Subject   string `yaml:"subject"`
	Durable   string `yaml:"durable"`
	Queue     string `yaml:"queue"`
}

// HTTP configures the read-only status API.
type HTTP struct {
	Listen string `yaml:"listen"`
}

// Config is the full operator configuration.
type Config struct {
	LedgerPath    string            `yaml:"ledger_path"`
	TemplatesPath string            `yaml:"templates_path"`
	AddressBook   map[string]string `yaml:"address_book"`
	Delivery      Delivery          `yaml:"delivery"`
	Breaker       Breaker           `yaml:"breaker"`
	Feed          Feed              `yaml:"feed"`
	HTTP          HTTP              `yaml:"http"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LedgerPath: "dispatch.db",
		HTTP:       HTTP{Listen: ":8080"},
		Feed: Feed{
			ClusterID: "test-cluster",
			URL:       "nats://127.0.0.1:4222",
			Subject:   "orders",
			Durable:   "dispatch-feed",
		},
	}
}

// Load reads and validates a YAML configuration file. Fields absent from
// the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the parts every command needs.
func (c *Config) Validate() error {
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must not be empty")
	}
	if c.Delivery.SendRetries < 0 {
		return fmt.Errorf("delivery.send_retries must not be negative")
	}
	if c.Delivery.MaxAttempts < 0 {
		return fmt.Errorf("delivery.max_attempts must not be negative")
	}
	return nil
}
