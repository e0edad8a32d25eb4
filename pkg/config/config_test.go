package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittohdfs/pkg/fserror"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_ConfigFile(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", `
host: "nn.example.com"
port: 9000
user: "alice"
read_timeout: "5s"
logging:
  level: "debug"
extra:
  dfs.client.read.shortcircuit: "true"
`)

	opts, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if opts.Host != "nn.example.com" || opts.Port != 9000 {
		t.Errorf("Expected nn.example.com:9000, got %s", opts.Address())
	}
	if opts.User != "alice" {
		t.Errorf("Expected user 'alice', got %q", opts.User)
	}
	if opts.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read_timeout 5s, got %v", opts.ReadTimeout)
	}
	if opts.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", opts.Logging.Level)
	}
	if opts.Extra["dfs.client.read.shortcircuit"] != "true" {
		t.Errorf("Expected dotted extra key to survive, got %v", opts.Extra)
	}

	// defaults
	if opts.ConnectRetries != DefaultConnectRetries {
		t.Errorf("Expected default connect_retries %d, got %d", DefaultConnectRetries, opts.ConnectRetries)
	}
	if opts.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("Expected default write_timeout, got %v", opts.WriteTimeout)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", `
host: "nn"
hostname: "typo"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for unknown key")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HADOOP_USER_NAME", "hdfs")

	opts, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults without a config file, got error: %v", err)
	}
	if opts.Host != DefaultHost || opts.Port != DefaultPort {
		t.Errorf("Expected default address, got %s", opts.Address())
	}
	if opts.User != "hdfs" {
		t.Errorf("Expected user from HADOOP_USER_NAME, got %q", opts.User)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", `
host: "nn"
port: 9000
`)
	t.Setenv("DHDFS_PORT", "9999")
	t.Setenv("DHDFS_LOGGING_LEVEL", "warn")
	t.Setenv("DHDFS_CONNECT_TIMEOUT", "3s")

	opts, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if opts.Port != 9999 {
		t.Errorf("Expected env port 9999, got %d", opts.Port)
	}
	if opts.Logging.Level != "WARN" {
		t.Errorf("Expected env level WARN, got %q", opts.Logging.Level)
	}
	if opts.ConnectTimeout != 3*time.Second {
		t.Errorf("Expected env connect_timeout 3s, got %v", opts.ConnectTimeout)
	}
}

func TestLoadOver_KeepsBase(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", `
port: 9001
`)
	base := &Options{Host: "from-xml", Port: 8020, Replication: 2, Extra: map[string]string{"dfs.replication": "2"}}

	opts, err := LoadOver(base, configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if opts.Host != "from-xml" || opts.Port != 9001 || opts.Replication != 2 {
		t.Errorf("Unexpected merge result: %+v", opts)
	}
	if opts.Extra["dfs.replication"] != "2" {
		t.Errorf("Expected base extra to be kept, got %v", opts.Extra)
	}

	opts.Extra["x"] = "y"
	if _, ok := base.Extra["x"]; ok {
		t.Error("LoadOver must not alias the base extra map")
	}
}

func TestDecode(t *testing.T) {
	t.Run("WeaklyTypedValues", func(t *testing.T) {
		opts, err := Decode(map[string]any{
			"host":         "nn",
			"port":         "9000",
			"read_timeout": "2s",
			"replication":  2,
			"extra":        map[string]any{"dfs.permissions": "false"},
		})
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if opts.Port != 9000 || opts.ReadTimeout != 2*time.Second || opts.Replication != 2 {
			t.Errorf("Unexpected options: %+v", opts)
		}
		if opts.Extra["dfs.permissions"] != "false" {
			t.Errorf("Expected extra to be decoded, got %v", opts.Extra)
		}
	})

	t.Run("UnknownKeyRejected", func(t *testing.T) {
		_, err := Decode(map[string]any{"host": "nn", "bogus": 1})
		if err == nil {
			t.Fatal("Expected error for unknown key")
		}
		if !strings.Contains(err.Error(), "bogus") {
			t.Errorf("Expected error to name the key, got: %v", err)
		}
	})

	t.Run("TicketAndTokenExclusive", func(t *testing.T) {
		_, err := Decode(map[string]any{"host": "nn", "ticket_cache": "/tmp/krb5cc_0", "token": "abc"})
		if err == nil {
			t.Fatal("Expected error for ticket_cache with token")
		}
		if !errors.Is(err, fserror.ErrArgument) {
			t.Errorf("Expected an argument error, got: %v", err)
		}
	})
}
