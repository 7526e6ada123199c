package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const configName = "pharmagate"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for pharmagate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself never
// matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: PHARMAGATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("PHARMAGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches ., $HOME/.pharmagate and /etc/pharmagate.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".pharmagate"),
		"/etc/pharmagate",
	})
}

// findConfigFileInPaths searches the given directories for pharmagate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar keys so nested values can be overridden.
// Example: PHARMAGATE_RATE_LIMIT_REDIS_ADDR overrides rate_limit.redis.addr
func bindNestedEnvKeys() {
	keys := []string{
		"server.http_addr", "server.log_level", "server.mode",
		"server.read_timeout", "server.write_timeout",
		"server.tls_cert_file", "server.tls_key_file",

		"upstream.url", "upstream.timeout",

		"rate_limit.enabled", "rate_limit.backend", "rate_limit.cleanup_interval",
		"rate_limit.redis.addr", "rate_limit.redis.password", "rate_limit.redis.db",

		"security.max_payload_bytes", "security.inspect_json", "security.max_json_depth",
		"security.html_sanitizer", "security.signatures_file",

		"auth.jwt_secret", "auth.token_ttl", "auth.issuer", "auth.audience",

		"audit.output", "audit.channel_size", "audit.batch_size",
		"audit.flush_interval", "audit.send_timeout", "audit.buffer_size", "audit.retention",

		"tracing.enabled",
		"dev_mode",
	}
	// Users, protected routes and tier overrides are structured; use the file.
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: run from environment variables only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
