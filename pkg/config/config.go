// Package config holds the options of a filesystem client and loads them from
// configuration files, environment variables and Hadoop XML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Options enumerates every option recognized by the client.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority, applied by the caller)
//  2. Environment variables (DHDFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Hadoop XML configuration (core-site.xml, hdfs-site.xml), when the caller
//     starts from FromHadoopConf
//  5. Default values (lowest priority)
//
// Options that the client does not interpret are carried in Extra and logged at
// connect time, so unknown Hadoop parameters survive a round trip through the
// configuration without failing validation.
type Options struct {
	// Host is the name-node host. An "hdfs://host:port" URL is also accepted.
	Host string `mapstructure:"host" validate:"required"`

	// Port is the name-node RPC port.
	// Default: 8020
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// User is the effective user sent in the connection context.
	// Default: $HADOOP_USER_NAME, then the current OS user
	User string `mapstructure:"user"`

	// TicketCache is the path to a Kerberos credential cache. Setting it enables
	// KERBEROS authentication.
	TicketCache string `mapstructure:"ticket_cache"`

	// Krb5Conf is the path to krb5.conf, used only with TicketCache.
	// Default: $KRB5_CONFIG, then /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf"`

	// ServicePrincipal is the name-node service principal as SERVICE/FQDN
	// (e.g. "nn/namenode.example.com"). When empty it is derived from the
	// server's SASL negotiation.
	ServicePrincipal string `mapstructure:"service_principal"`

	// Token is a delegation token in its URL-safe base64 string form. Setting it
	// enables TOKEN (DIGEST-MD5) authentication.
	Token string `mapstructure:"token"`

	// ConnectRetries is the number of additional dial attempts after a failed one.
	// Default: 3
	ConnectRetries int `mapstructure:"connect_retries" validate:"gte=0"`

	// ConnectRetryRate is the sustained rate of dial attempts per second.
	// Default: 2
	ConnectRetryRate float64 `mapstructure:"connect_retry_rate" validate:"gte=0"`

	// ConnectTimeout bounds a single dial and handshake.
	// Default: 20s
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`

	// ReadTimeout bounds each socket read on name-node and data-node connections.
	// Default: 60s
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`

	// WriteTimeout bounds each socket write.
	// Default: 60s
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`

	// BlockSize is the block size for new files. Zero uses the cluster default.
	BlockSize int64 `mapstructure:"block_size" validate:"gte=0"`

	// Replication is the replication factor for new files. Zero uses the cluster
	// default.
	Replication int `mapstructure:"replication" validate:"gte=0,lte=32767"`

	// BufferSize is the size of copy buffers used by bulk transfers.
	// Default: 64KiB
	BufferSize int `mapstructure:"buffer_size" validate:"gte=0"`

	// LeaseRenewInterval is how often the lease is renewed while files are
	// open for writing.
	// Default: 30s
	LeaseRenewInterval time.Duration `mapstructure:"lease_renew_interval" validate:"gte=0"`

	// Logging controls log output
	Logging LoggingConfig `mapstructure:"logging"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Extra carries parameters passed through unchanged
	Extra map[string]string `mapstructure:"extra"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled registers Prometheus collectors for client operations
	Enabled bool `mapstructure:"enabled"`

	// Addr, when set together with Enabled, is the listen address of an HTTP
	// endpoint serving /metrics for the lifetime of a command (e.g. ":9090")
	Addr string `mapstructure:"addr"`
}

// Address returns host:port of the name node.
func (o *Options) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Load loads options from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DHDFS_*)
//  2. Configuration file
//  3. Default values
//
// Unknown keys in the file are rejected; passthrough parameters belong under
// "extra".
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Options: Loaded and validated options
//   - error: Configuration loading or validation error
func Load(configPath string) (*Options, error) {
	return LoadOver(nil, configPath)
}

// LoadOver is Load starting from base instead of zero values, typically the
// result of FromHadoopConf.
func LoadOver(base *Options, configPath string) (*Options, error) {
	// "::" keeps dotted Hadoop parameter names under extra from being split
	// into nested keys
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	opts := &Options{}
	if base != nil {
		*opts = *base
		opts.Extra = copyExtra(base.Extra)
	}
	if err := v.UnmarshalExact(opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(opts)

	if err := Validate(opts); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return opts, nil
}

// envKeys are bound explicitly so environment variables apply even when the
// key is absent from the configuration file.
var envKeys = []string{
	"host", "port", "user", "ticket_cache", "krb5_conf", "service_principal", "token",
	"connect_retries", "connect_retry_rate", "connect_timeout", "read_timeout",
	"write_timeout", "block_size", "replication", "buffer_size", "lease_renew_interval",
	"logging::level", "metrics::enabled", "metrics::addr",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DHDFS_ prefix and underscores
	// Example: DHDFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DHDFS")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dhdfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// Decode builds options from a parameter map, as passed programmatically.
//
// Keys follow the file names ("host", "read_timeout", ...). String values are
// converted to the field type ("8020", "30s"). Unknown keys are an error unless
// they sit in the "extra" map.
func Decode(params map[string]any) (*Options, error) {
	opts := &Options{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}

	ApplyDefaults(opts)

	if err := Validate(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func copyExtra(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dhdfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dhdfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
