package config

import "time"

// Application constants
const (
	AppName    = "macrotool"
	AppVersion = "1.0.0"

	// EnvPrefix namespaces every environment variable, e.g. MACROTOOL_LICENSE_FILE
	EnvPrefix = "MACROTOOL"

	ConfigFileName  = "macrotool.yaml"
	LicenseFileName = "license.key"
	DefaultLogFile  = "logs/macrotool.log"

	DefaultServerAddr        = "127.0.0.1:8765"
	DefaultExpiryWarningDays = 7

	DefaultRateLimitRPS   = 20
	DefaultRateLimitBurst = 40

	LicenseCheckTimeout = 10 * time.Second

	// Endpoints of the local status server
	HealthEndpoint   = "/healthz"
	LicenseEndpoint  = "/api/license"
	FeaturesEndpoint = "/api/automation/features"
	MetricsEndpoint  = "/metrics"
)
