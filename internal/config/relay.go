package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelayConfig configures the notification outbox drainer.
type RelayConfig struct {
	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	Security struct {
		EnforceSecureTLS *bool `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Relay struct {
		PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
		BatchSize           int     `yaml:"batch_size"`
		MaxAttempts         int     `yaml:"max_attempts"`
		MaxBackoffSeconds   int     `yaml:"max_backoff_seconds"`
		SendsPerSecond      float64 `yaml:"sends_per_second"`
		Concurrency         int     `yaml:"concurrency"`
	} `yaml:"relay"`

	Twilio struct {
		AccountSID string `yaml:"account_sid"`
		AuthToken  string `yaml:"auth_token"`
		FromNumber string `yaml:"from_number"`
	} `yaml:"twilio"`

	Logging LoggingConfig `yaml:"logging"`
}

func LoadRelay(path string) (*RelayConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read relay config: %w", err)
	}
	var cfg RelayConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse relay config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RelayConfig) applyDefaults() {
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 4
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Relay.PollIntervalSeconds <= 0 {
		c.Relay.PollIntervalSeconds = 10
	}
	if c.Relay.BatchSize <= 0 {
		c.Relay.BatchSize = 50
	}
	if c.Relay.MaxAttempts <= 0 {
		c.Relay.MaxAttempts = 5
	}
	if c.Relay.MaxBackoffSeconds <= 0 {
		c.Relay.MaxBackoffSeconds = 600
	}
	if c.Relay.SendsPerSecond <= 0 {
		c.Relay.SendsPerSecond = 1
	}
	if c.Relay.Concurrency <= 0 {
		c.Relay.Concurrency = 4
	}
	c.Logging.applyDefaults("ecotrade-notify-relay", "relay")
}

func (c *RelayConfig) validate() error {
	if c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required")
	}
	if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
		return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
	}
	if c.Twilio.AccountSID == "" {
		return errors.New("twilio.account_sid is required")
	}
	if c.Twilio.AuthToken == "" {
		return errors.New("twilio.auth_token is required")
	}
	if !strings.HasPrefix(c.Twilio.FromNumber, "+") {
		return errors.New("twilio.from_number must be an E.164 number")
	}
	if c.Relay.BatchSize > 500 {
		return errors.New("relay.batch_size cannot exceed 500")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func (c *RelayConfig) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Twilio.AccountSID = os.ExpandEnv(strings.TrimSpace(c.Twilio.AccountSID))
	c.Twilio.AuthToken = os.ExpandEnv(strings.TrimSpace(c.Twilio.AuthToken))
	c.Twilio.FromNumber = os.ExpandEnv(strings.TrimSpace(c.Twilio.FromNumber))
}
