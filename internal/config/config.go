package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures runtime settings for the marketplace server.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
		MaxBodyBytes           int64  `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
		EventLog    struct {
			Driver     string `yaml:"driver"`
			SQLitePath string `yaml:"sqlite_path"`
		} `yaml:"event_log"`
	} `yaml:"storage"`

	// Chain settings are optional. Leaving any of rpc_url, private_key or
	// contract_address empty runs the server with simulated provenance only.
	Chain struct {
		RPCURL                  string `yaml:"rpc_url"`
		PrivateKey              string `yaml:"private_key"`
		ContractAddress         string `yaml:"contract_address"`
		ChainID                 int64  `yaml:"chain_id"`
		TimeoutSeconds          int    `yaml:"timeout_seconds"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerResetSeconds     int    `yaml:"breaker_reset_seconds"`
	} `yaml:"chain"`

	Payment struct {
		KeyID     string `yaml:"key_id"`
		KeySecret string `yaml:"key_secret"`
		Currency  string `yaml:"currency"`
	} `yaml:"payment"`

	Notify struct {
		Enabled            *bool  `yaml:"enabled"`
		DefaultCountryCode string `yaml:"default_country_code"`
	} `yaml:"notify"`

	Security struct {
		BearerToken      string   `yaml:"bearer_token"`
		TrustedCIDRs     []string `yaml:"trusted_cidrs"`
		EnforceSecureTLS *bool    `yaml:"enforce_secure_transport"`
	} `yaml:"security"`

	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Service  string `yaml:"service"`
	Version  string `yaml:"version"`
	Commit   string `yaml:"commit"`
	Region   string `yaml:"region"`
	Instance string `yaml:"instance"`
	Level    string `yaml:"level"`
}

const (
	EventLogPostgres = "postgres"
	EventLogSQLite   = "sqlite"
)

// Load reads and validates config from disk.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ChainConfigured reports whether every chain connection setting is present.
func (c *Config) ChainConfigured() bool {
	return c.Chain.RPCURL != "" && c.Chain.PrivateKey != "" && c.Chain.ContractAddress != ""
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 45
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 2 << 20
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 12
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	c.Storage.EventLog.Driver = strings.ToLower(strings.TrimSpace(c.Storage.EventLog.Driver))
	if c.Storage.EventLog.Driver == "" {
		c.Storage.EventLog.Driver = EventLogPostgres
	}
	if c.Chain.TimeoutSeconds <= 0 {
		c.Chain.TimeoutSeconds = 20
	}
	if c.Chain.BreakerFailureThreshold == 0 {
		c.Chain.BreakerFailureThreshold = 3
	}
	if c.Chain.BreakerResetSeconds <= 0 {
		c.Chain.BreakerResetSeconds = 60
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "INR"
	}
	if c.Notify.Enabled == nil {
		c.Notify.Enabled = boolPtr(true)
	}
	if c.Notify.DefaultCountryCode == "" {
		c.Notify.DefaultCountryCode = "91"
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if len(c.Security.TrustedCIDRs) == 0 {
		c.Security.TrustedCIDRs = []string{
			"127.0.0.1/32",
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
		}
	}
	c.Logging.applyDefaults("ecotrade-server", "api")
}

func (l *LoggingConfig) applyDefaults(service, region string) {
	if l.Service == "" {
		l.Service = service
	}
	if l.Version == "" {
		l.Version = "dev"
	}
	if l.Commit == "" {
		l.Commit = "unknown"
	}
	if l.Region == "" {
		l.Region = region
	}
	if l.Instance == "" {
		l.Instance, _ = os.Hostname()
	}
	if l.Level == "" {
		l.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required")
	}
	if *c.Security.EnforceSecureTLS && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
		return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
	}
	switch c.Storage.EventLog.Driver {
	case EventLogPostgres:
	case EventLogSQLite:
		if c.Storage.EventLog.SQLitePath == "" {
			return errors.New("storage.event_log.sqlite_path is required for the sqlite driver")
		}
	default:
		return errors.New("storage.event_log.driver must be one of postgres|sqlite")
	}
	if c.ChainConfigured() {
		if c.Chain.ChainID <= 0 {
			return errors.New("chain.chain_id must be positive when the chain is configured")
		}
		if *c.Security.EnforceSecureTLS && !isSecureRPCURL(c.Chain.RPCURL) {
			return errors.New("chain.rpc_url must be https or wss when enforce_secure_transport is enabled")
		}
	}
	if c.Payment.KeyID == "" || c.Payment.KeySecret == "" {
		return errors.New("payment.key_id and payment.key_secret are required")
	}
	if strings.TrimSpace(c.Security.BearerToken) == "" {
		return errors.New("security.bearer_token is required")
	}
	for i, cidr := range c.Security.TrustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.trusted_cidrs[%d] is invalid: %w", i, err)
		}
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Storage.EventLog.SQLitePath = os.ExpandEnv(strings.TrimSpace(c.Storage.EventLog.SQLitePath))
	c.Chain.RPCURL = os.ExpandEnv(strings.TrimSpace(c.Chain.RPCURL))
	c.Chain.PrivateKey = os.ExpandEnv(strings.TrimSpace(c.Chain.PrivateKey))
	c.Chain.ContractAddress = os.ExpandEnv(strings.TrimSpace(c.Chain.ContractAddress))
	c.Payment.KeyID = os.ExpandEnv(strings.TrimSpace(c.Payment.KeyID))
	c.Payment.KeySecret = os.ExpandEnv(strings.TrimSpace(c.Payment.KeySecret))
	c.Security.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Security.BearerToken))
}
