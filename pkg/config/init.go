package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# dhdfs configuration file
#
# Every key can be overridden with an environment variable: DHDFS_<KEY>, with
# nested keys joined by "_" (e.g. DHDFS_LOGGING_LEVEL=DEBUG).
# Parameters the client does not interpret go under "extra".

`

// InitConfig writes a configuration file with every default to the default
// location and returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a configuration file with every default to path. An
// existing file is only replaced when force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	data = append([]byte(fileHeader), data...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders options as YAML in the layout Load reads back. Durations
// are written in their string form ("30s").
func Marshal(opts *Options) ([]byte, error) {
	doc := map[string]any{
		"host":                 opts.Host,
		"port":                 opts.Port,
		"user":                 opts.User,
		"connect_retries":      opts.ConnectRetries,
		"connect_retry_rate":   opts.ConnectRetryRate,
		"connect_timeout":      opts.ConnectTimeout.String(),
		"read_timeout":         opts.ReadTimeout.String(),
		"write_timeout":        opts.WriteTimeout.String(),
		"block_size":           opts.BlockSize,
		"replication":          opts.Replication,
		"buffer_size":          opts.BufferSize,
		"lease_renew_interval": opts.LeaseRenewInterval.String(),
		"logging":              map[string]any{"level": opts.Logging.Level},
		"metrics":              map[string]any{"enabled": opts.Metrics.Enabled, "addr": opts.Metrics.Addr},
	}
	for key, v := range map[string]string{
		"ticket_cache":      opts.TicketCache,
		"krb5_conf":         opts.Krb5Conf,
		"service_principal": opts.ServicePrincipal,
		"token":             opts.Token,
	} {
		if v != "" {
			doc[key] = v
		}
	}
	if len(opts.Extra) > 0 {
		doc["extra"] = opts.Extra
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
