package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"macrotool/internal/security"
)

// ErrNoSecret is returned when no license key material is configured
var ErrNoSecret = errors.New("no license secret configured")

// Config represents the complete application configuration
type Config struct {
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// LicenseConfig locates the license file and the keys that open it
type LicenseConfig struct {
	File string `yaml:"file" envconfig:"FILE" validate:"required"`

	// Secret is a base64url value from which both keys are derived
	Secret string `yaml:"secret" envconfig:"SECRET"`

	// FernetKey and SigningSecret set the two keys directly instead
	FernetKey     string `yaml:"fernet_key" envconfig:"FERNET_KEY" validate:"required_with=SigningSecret"`
	SigningSecret string `yaml:"signing_secret" envconfig:"SIGNING_SECRET" validate:"required_with=FernetKey"`

	MachineID         string        `yaml:"machine_id" envconfig:"MACHINE_ID"`
	MachineIDSource   string        `yaml:"machine_id_source" envconfig:"MACHINE_ID_SOURCE" validate:"oneof=host mac"`
	MaxTokenAge       time.Duration `yaml:"max_token_age" envconfig:"MAX_TOKEN_AGE" validate:"gte=0"`
	ExpiryWarningDays int           `yaml:"expiry_warning_days" envconfig:"EXPIRY_WARNING_DAYS" validate:"gte=0"`
}

// ServerConfig contains the local status server configuration
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" envconfig:"ENABLED"`
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
}

// RateLimitConfig contains rate limiting configuration for the status server
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=1"`
}

// Load builds the configuration from defaults, an optional YAML file and
// MACROTOOL_* environment variables, in increasing order of precedence.
// An empty configFile falls back to MACROTOOL_CONFIG and then to the
// standard search locations.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile == "" {
		configFile = findConfigFile()
	}

	if configFile != "" {
		if err := cfg.loadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto c. Keys absent from the file keep
// their current values.
func (c *Config) loadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	return nil
}

// resolvePaths anchors relative paths at the executable directory
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}
	c.License.File = paths.Resolve(c.License.File)
	if c.Logging.FilePath != "" {
		c.Logging.FilePath = paths.Resolve(c.Logging.FilePath)
	}
	return nil
}

// Validate checks struct constraints
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// KeySet returns the license keys. Explicit keys win over a configured
// secret, which wins over the secret embedded at build time.
func (c *LicenseConfig) KeySet() (*security.KeySet, error) {
	if c.FernetKey != "" {
		return security.NewKeySet(c.FernetKey, []byte(c.SigningSecret))
	}

	encoded := c.Secret
	if encoded == "" {
		encoded = EmbeddedSecret
	}
	if encoded == "" {
		return nil, ErrNoSecret
	}

	secret, err := security.ParseSecret(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid license secret: %w", err)
	}
	return security.DeriveKeySet(secret)
}

// HasSecret reports whether any key material is available
func (c *LicenseConfig) HasSecret() bool {
	return c.FernetKey != "" || c.Secret != "" || EmbeddedSecret != ""
}

// findConfigFile returns the first config file found in the common locations
func findConfigFile() string {
	locations := []string{ConfigFileName, "configs/" + ConfigFileName}
	if paths, err := GetPaths(); err == nil {
		locations = append([]string{paths.Resolve(ConfigFileName)}, locations...)
	}

	for _, location := range locations {
		if FileExists(location) {
			return location
		}
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		License: LicenseConfig{
			File:              LicenseFileName,
			MachineIDSource:   security.SourceHost,
			ExpiryWarningDays: DefaultExpiryWarningDays,
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            DefaultServerAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			MetricsEnabled: true,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     DefaultRateLimitRPS,
			Burst:   DefaultRateLimitBurst,
		},
	}
}
