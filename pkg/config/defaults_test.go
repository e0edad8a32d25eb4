package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		wantHost string
		wantPort int
	}{
		{"empty", "", 0, "localhost", 8020},
		{"host only", "nn", 0, "nn", 8020},
		{"explicit port kept", "nn", 9000, "nn", 9000},
		{"hdfs url", "hdfs://nn.example.com:9001", 0, "nn.example.com", 9001},
		{"hdfs url without port", "hdfs://nn.example.com", 0, "nn.example.com", 8020},
		{"host:port", "nn:9002", 0, "nn", 9002},
		{"explicit port wins over url", "hdfs://nn:9001", 7000, "nn", 7000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := &Options{Host: tt.host, Port: tt.port}
			ApplyDefaults(opts)
			if opts.Host != tt.wantHost || opts.Port != tt.wantPort {
				t.Errorf("Expected %s:%d, got %s", tt.wantHost, tt.wantPort, opts.Address())
			}
		})
	}
}

func TestApplyDefaults_Timeouts(t *testing.T) {
	opts := &Options{}
	ApplyDefaults(opts)

	if opts.ConnectTimeout != 20*time.Second {
		t.Errorf("Expected default connect timeout 20s, got %v", opts.ConnectTimeout)
	}
	if opts.ReadTimeout != 60*time.Second {
		t.Errorf("Expected default read timeout 60s, got %v", opts.ReadTimeout)
	}
	if opts.LeaseRenewInterval != 30*time.Second {
		t.Errorf("Expected default lease renew interval 30s, got %v", opts.LeaseRenewInterval)
	}
	if opts.BufferSize != 64<<10 {
		t.Errorf("Expected default buffer size 64KiB, got %d", opts.BufferSize)
	}
}

func TestApplyDefaults_ClusterDefaultsStayZero(t *testing.T) {
	opts := &Options{}
	ApplyDefaults(opts)

	if opts.BlockSize != 0 || opts.Replication != 0 {
		t.Errorf("Expected block size and replication to stay 0, got %d/%d", opts.BlockSize, opts.Replication)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	opts := &Options{
		ConnectRetries: 7,
		ReadTimeout:    time.Second,
		Logging:        LoggingConfig{Level: "error"},
	}
	ApplyDefaults(opts)

	if opts.ConnectRetries != 7 || opts.ReadTimeout != time.Second {
		t.Errorf("Explicit values were overwritten: %+v", opts)
	}
	if opts.Logging.Level != "ERROR" {
		t.Errorf("Expected level normalized to ERROR, got %q", opts.Logging.Level)
	}
}

func TestApplyDefaults_Krb5Conf(t *testing.T) {
	t.Setenv("KRB5_CONFIG", "/opt/krb5.conf")

	opts := &Options{TicketCache: "/tmp/krb5cc_1000"}
	ApplyDefaults(opts)
	if opts.Krb5Conf != "/opt/krb5.conf" {
		t.Errorf("Expected krb5_conf from KRB5_CONFIG, got %q", opts.Krb5Conf)
	}

	plain := &Options{}
	ApplyDefaults(plain)
	if plain.Krb5Conf != "" {
		t.Errorf("Expected no krb5_conf without a ticket cache, got %q", plain.Krb5Conf)
	}
}
