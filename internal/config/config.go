// Package config centralizes runtime configuration for tcm. It loads a JSON
// or YAML configuration file, merges defaults for anything left unset, and
// applies TCM_* environment overrides. Development builds run on defaults
// when no file is present.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"trustchain.mini/tcm/internal/ledger"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// LedgerConfig carries the ledger limits.
type LedgerConfig struct {
	Version            string `json:"version" yaml:"version"`
	MaxMessageLength   int    `json:"max_message_length" yaml:"max_message_length"`
	MaxReferenceLength int    `json:"max_reference_length" yaml:"max_reference_length"`
	MaxEvidenceLength  int    `json:"max_evidence_length" yaml:"max_evidence_length"`
	RateLimitSeconds   uint64 `json:"rate_limit_seconds" yaml:"rate_limit_seconds"`
}

// Config holds configurable options for the tcm node.
type Config struct {
	KeyFile  string `json:"key_file" yaml:"key_file"`
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file"`

	StoreDriver  string `json:"store_driver" yaml:"store_driver"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	DatabaseURL  string `json:"database_url" yaml:"database_url"`
	MaxBackups   int    `json:"max_backups" yaml:"max_backups"`

	TendermintHome  string `json:"tendermint_home" yaml:"tendermint_home"`
	ABCISocket      string `json:"abci_socket" yaml:"abci_socket"`
	MDNSServiceName string `json:"mdns_service_name" yaml:"mdns_service_name"`
	P2PPort         int    `json:"p2p_port" yaml:"p2p_port"`
	GenesisAdmin    string `json:"genesis_admin" yaml:"genesis_admin"`

	EnableActions    bool   `json:"enable_actions" yaml:"enable_actions"`
	LifecycleCommand string `json:"lifecycle_command" yaml:"lifecycle_command"`

	APIRateLimit float64 `json:"api_rate_limit" yaml:"api_rate_limit"`
	APIBurst     int     `json:"api_burst" yaml:"api_burst"`
	EventLogSize int     `json:"event_log_size" yaml:"event_log_size"`
	DocsDir      string  `json:"docs_dir" yaml:"docs_dir"`

	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisStream   string `json:"redis_stream" yaml:"redis_stream"`

	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" yaml:"otlp_insecure"`

	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`
}

// Default returns the built-in configuration.
func Default() *Config {
	p := ledger.DefaultParams()
	return &Config{
		KeyFile:         "tcm_key.pem",
		Port:            8080,
		LogLevel:        "info",
		LogFile:         "tcm.log",
		StoreDriver:     DriverSQLite,
		DatabasePath:    "ledger.db",
		MaxBackups:      10,
		ABCISocket:      "unix://tcm.sock",
		MDNSServiceName: "_tcm._tcp",
		P2PPort:         26656,
		APIRateLimit:    10,
		APIBurst:        20,
		EventLogSize:    200,
		DocsDir:         "docs",
		RedisStream:     "tcm:events",
		Ledger: LedgerConfig{
			Version:            p.Version,
			MaxMessageLength:   p.MaxMessageLength,
			MaxReferenceLength: p.MaxReferenceLength,
			MaxEvidenceLength:  p.MaxEvidenceLength,
			RateLimitSeconds:   p.RateLimitSeconds,
		},
	}
}

// LoadConfig reads the file at path (JSON, or YAML for .yaml/.yml), fills
// unset fields from Default and applies environment overrides. A missing
// file yields defaults; a file that cannot be parsed is an error.
func LoadConfig(path string) (*Config, error) {
	def := Default()
	c := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			c = Default()
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := decode(path, b, c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	} else {
		c = Default()
	}

	mergeDefaults(c, def)
	if err := applyEnv(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func decode(path string, b []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, c)
	default:
		return json.Unmarshal(b, c)
	}
}

func mergeDefaults(c, def *Config) {
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFile == "" {
		c.LogFile = def.LogFile
	}
	if c.StoreDriver == "" {
		c.StoreDriver = def.StoreDriver
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}
	if c.ABCISocket == "" {
		c.ABCISocket = def.ABCISocket
	}
	if c.MDNSServiceName == "" {
		c.MDNSServiceName = def.MDNSServiceName
	}
	if c.P2PPort == 0 {
		c.P2PPort = def.P2PPort
	}
	if c.APIRateLimit == 0 {
		c.APIRateLimit = def.APIRateLimit
	}
	if c.APIBurst == 0 {
		c.APIBurst = def.APIBurst
	}
	if c.EventLogSize == 0 {
		c.EventLogSize = def.EventLogSize
	}
	if c.DocsDir == "" {
		c.DocsDir = def.DocsDir
	}
	if c.RedisStream == "" {
		c.RedisStream = def.RedisStream
	}
	if c.Ledger.Version == "" {
		c.Ledger.Version = def.Ledger.Version
	}
	if c.Ledger.MaxMessageLength == 0 {
		c.Ledger.MaxMessageLength = def.Ledger.MaxMessageLength
	}
	if c.Ledger.MaxReferenceLength == 0 {
		c.Ledger.MaxReferenceLength = def.Ledger.MaxReferenceLength
	}
	if c.Ledger.MaxEvidenceLength == 0 {
		c.Ledger.MaxEvidenceLength = def.Ledger.MaxEvidenceLength
	}
	if c.Ledger.RateLimitSeconds == 0 {
		c.Ledger.RateLimitSeconds = def.Ledger.RateLimitSeconds
	}
}

// applyEnv overrides fields from TCM_* variables.
func applyEnv(c *Config) error {
	str := map[string]*string{
		"TCM_KEY_FILE":          &c.KeyFile,
		"TCM_LOG_LEVEL":         &c.LogLevel,
		"TCM_LOG_FILE":          &c.LogFile,
		"TCM_STORE_DRIVER":      &c.StoreDriver,
		"TCM_DATABASE_PATH":     &c.DatabasePath,
		"TCM_DATABASE_URL":      &c.DatabaseURL,
		"TCM_TENDERMINT_HOME":   &c.TendermintHome,
		"TCM_ABCI_SOCKET":       &c.ABCISocket,
		"TCM_GENESIS_ADMIN":     &c.GenesisAdmin,
		"TCM_LIFECYCLE_COMMAND": &c.LifecycleCommand,
		"TCM_DOCS_DIR":          &c.DocsDir,
		"TCM_REDIS_ADDR":        &c.RedisAddr,
		"TCM_REDIS_PASSWORD":    &c.RedisPassword,
		"TCM_REDIS_STREAM":      &c.RedisStream,
		"TCM_OTLP_ENDPOINT":     &c.OTLPEndpoint,
		"TCM_LEDGER_VERSION":    &c.Ledger.Version,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TCM_PORT":        &c.Port,
		"TCM_P2P_PORT":    &c.P2PPort,
		"TCM_MAX_BACKUPS": &c.MaxBackups,
		"TCM_REDIS_DB":    &c.RedisDB,
		"TCM_API_BURST":   &c.APIBurst,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"TCM_ENABLE_ACTIONS": &c.EnableActions,
		"TCM_OTLP_INSECURE":  &c.OTLPInsecure,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv("TCM_RATE_LIMIT_SECONDS"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TCM_RATE_LIMIT_SECONDS: %w", err)
		}
		c.Ledger.RateLimitSeconds = n
	}
	return nil
}

// Validate checks settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store driver %q requires database_url", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if err := c.LedgerParams().Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// LedgerParams converts the ledger section to ledger.Params.
func (c *Config) LedgerParams() ledger.Params {
	return ledger.Params{
		Version:            c.Ledger.Version,
		MaxMessageLength:   c.Ledger.MaxMessageLength,
		MaxReferenceLength: c.Ledger.MaxReferenceLength,
		MaxEvidenceLength:  c.Ledger.MaxEvidenceLength,
		RateLimitSeconds:   c.Ledger.RateLimitSeconds,
	}
}
