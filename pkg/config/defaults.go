package config

import (
	"net"
	"net/url"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultHost               = "localhost"
	DefaultPort               = 8020
	DefaultConnectRetries     = 3
	DefaultConnectRetryRate   = 2.0
	DefaultConnectTimeout     = 20 * time.Second
	DefaultReadTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 60 * time.Second
	DefaultBufferSize         = 64 << 10
	DefaultLeaseRenewInterval = 30 * time.Second
)

// Default returns options with every default applied.
func Default() *Options {
	opts := &Options{}
	ApplyDefaults(opts)
	return opts
}

// ApplyDefaults sets default values for any unspecified option.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - BlockSize and Replication stay zero, meaning "ask the cluster"
//   - An "hdfs://host:port" Host is split into Host and Port
func ApplyDefaults(opts *Options) {
	applyAddressDefaults(opts)
	applyCredentialDefaults(opts)

	if opts.ConnectRetries == 0 {
		opts.ConnectRetries = DefaultConnectRetries
	}
	if opts.ConnectRetryRate == 0 {
		opts.ConnectRetryRate = DefaultConnectRetryRate
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.LeaseRenewInterval == 0 {
		opts.LeaseRenewInterval = DefaultLeaseRenewInterval
	}

	if opts.Logging.Level == "" {
		opts.Logging.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	opts.Logging.Level = strings.ToUpper(opts.Logging.Level)

	if opts.Extra == nil {
		opts.Extra = make(map[string]string)
	}
}

func applyAddressDefaults(opts *Options) {
	if strings.Contains(opts.Host, "://") {
		if u, err := url.Parse(opts.Host); err == nil && u.Host != "" {
			opts.Host = u.Hostname()
			if p, err := strconv.Atoi(u.Port()); err == nil && opts.Port == 0 {
				opts.Port = p
			}
		}
	} else if h, p, err := net.SplitHostPort(opts.Host); err == nil {
		opts.Host = h
		if n, err := strconv.Atoi(p); err == nil && opts.Port == 0 {
			opts.Port = n
		}
	}

	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
}

func applyCredentialDefaults(opts *Options) {
	if opts.User == "" {
		opts.User = defaultUser()
	}
	if opts.TicketCache != "" && opts.Krb5Conf == "" {
		opts.Krb5Conf = os.Getenv("KRB5_CONFIG")
		if opts.Krb5Conf == "" {
			opts.Krb5Conf = "/etc/krb5.conf"
		}
	}
}

func defaultUser() string {
	if u := os.Getenv("HADOOP_USER_NAME"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "nobody"
}
