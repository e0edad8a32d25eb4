package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if configPath != GetDefaultConfigPath() {
		t.Errorf("Expected %s, got %s", GetDefaultConfigPath(), configPath)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}

	if _, err := InitConfig(false); err == nil {
		t.Fatal("Expected error on second InitConfig without force")
	}
	if _, err := InitConfig(true); err != nil {
		t.Fatalf("Force InitConfig failed: %v", err)
	}
}

func TestInitConfigToPath_RoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "custom", "dhdfs.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if !strings.HasPrefix(string(content), "# dhdfs configuration file") {
		t.Error("Generated config should start with the header comment")
	}

	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	if doc["connect_timeout"] != "20s" {
		t.Errorf("Expected durations in string form, got %v", doc["connect_timeout"])
	}

	// the generated file must load back without unknown-key errors
	opts, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if opts.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Expected %v, got %v", DefaultConnectTimeout, opts.ConnectTimeout)
	}
}

func TestInitConfigToPath_AlreadyExists(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", "existing")

	err := InitConfigToPath(configPath, false)
	if err == nil {
		t.Fatal("Expected error when file already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}

	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("Force InitConfigToPath failed: %v", err)
	}
	content, _ := os.ReadFile(configPath)
	if string(content) == "existing" {
		t.Error("File was not overwritten")
	}
}
