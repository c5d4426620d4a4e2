package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/use-agent/speedgauge/models"
	"gopkg.in/yaml.v3"
)

// FileName is the config file searched in the working directory and under
// $XDG_CONFIG_HOME/speedgauge/.
const FileName = "speedgauge.yaml"

// Config holds all application configuration.
type Config struct {
	General   GeneralConfig  `yaml:"general"`
	Zabbix    ZabbixConfig   `yaml:"zabbix"`
	Snapshot  SnapshotConfig `yaml:"snapshot"`
	Frequency map[string]int `yaml:"frequency"`
	Log       LogConfig      `yaml:"log"`
}

// GeneralConfig controls test execution.
type GeneralConfig struct {
	// DryRun disables the Zabbix push; batches are logged instead.
	DryRun bool `yaml:"dryrun"` // default: true

	// Headless controls whether Chromium runs headless.
	Headless bool `yaml:"headless"` // default: true

	// Timeout is the ceiling, in seconds, for interactive waits (finding
	// start buttons, consent dialogs). Site completion budgets are fixed
	// per driver and not affected by this value.
	Timeout int `yaml:"timeout"` // default: 30

	// OoklaServer is a substring matched against the speedtest.net server
	// list; when set, the ookla driver switches to the first matching
	// server before starting.
	OoklaServer string `yaml:"ookla_server"`
}

// ZabbixConfig controls the trapper push destination.
type ZabbixConfig struct {
	Server string `yaml:"server"` // default: "127.0.0.1"
	Port   int    `yaml:"port"`   // default: 10051
	// Host is the target host label the metrics are filed under.
	Host string `yaml:"host"` // default: "speedtest-agent"
}

// SnapshotConfig controls diagnostic screenshots.
type SnapshotConfig struct {
	Enable bool   `yaml:"enable"`   // default: false
	Dir    string `yaml:"save_dir"` // default: "./snapshots"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "text"
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			DryRun:   true,
			Headless: true,
			Timeout:  30,
		},
		Zabbix: ZabbixConfig{
			Server: "127.0.0.1",
			Port:   10051,
			Host:   "speedtest-agent",
		},
		Snapshot: SnapshotConfig{
			Enable: false,
			Dir:    "./snapshots",
		},
		Frequency: map[string]int{},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Find locates the config file. Lookup order:
//
//  1. Path given on the command line (error if it does not exist)
//  2. ./speedgauge.yaml
//  3. $XDG_CONFIG_HOME/speedgauge/speedgauge.yaml (~/.config fallback)
//
// An empty return with a nil error means no file was found and defaults
// apply.
func Find(cliPath string) (string, error) {
	if cliPath != "" {
		if _, err := os.Stat(cliPath); err != nil {
			return "", fmt.Errorf("config file %s not found: %w", cliPath, err)
		}
		return cliPath, nil
	}

	if _, err := os.Stat(FileName); err == nil {
		return FileName, nil
	}

	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil
		}
		xdg = filepath.Join(home, ".config")
	}
	p := filepath.Join(xdg, "speedgauge", FileName)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	return "", nil
}

// Load reads the YAML file at path (defaults only when path is empty),
// applies SPEEDGAUGE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Unmarshal over the defaults: absent keys keep their default.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers SPEEDGAUGE_* environment variables over the file values.
func (c *Config) applyEnv() {
	c.General.DryRun = envBoolOr("SPEEDGAUGE_DRYRUN", c.General.DryRun)
	c.General.Headless = envBoolOr("SPEEDGAUGE_HEADLESS", c.General.Headless)
	c.General.Timeout = envIntOr("SPEEDGAUGE_TIMEOUT", c.General.Timeout)
	c.General.OoklaServer = envOr("SPEEDGAUGE_OOKLA_SERVER", c.General.OoklaServer)

	c.Zabbix.Server = envOr("SPEEDGAUGE_ZABBIX_SERVER", c.Zabbix.Server)
	c.Zabbix.Port = envIntOr("SPEEDGAUGE_ZABBIX_PORT", c.Zabbix.Port)
	c.Zabbix.Host = envOr("SPEEDGAUGE_ZABBIX_HOST", c.Zabbix.Host)

	c.Snapshot.Enable = envBoolOr("SPEEDGAUGE_SNAPSHOT", c.Snapshot.Enable)
	c.Snapshot.Dir = envOr("SPEEDGAUGE_SNAPSHOT_DIR", c.Snapshot.Dir)

	c.Log.Level = envOr("SPEEDGAUGE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("SPEEDGAUGE_LOG_FORMAT", c.Log.Format)
}

// Validate rejects configurations that cannot work, at load time rather
// than at point of use.
func (c *Config) Validate() error {
	if c.General.Timeout <= 0 {
		return invalid(fmt.Sprintf("general.timeout must be positive, got %d", c.General.Timeout))
	}
	if c.Zabbix.Port < 1 || c.Zabbix.Port > 65535 {
		return invalid(fmt.Sprintf("zabbix.port out of range: %d", c.Zabbix.Port))
	}
	if c.Zabbix.Server == "" {
		return invalid("zabbix.server must not be empty")
	}
	if c.Zabbix.Host == "" {
		return invalid("zabbix.host must not be empty")
	}
	if c.Snapshot.Enable && c.Snapshot.Dir == "" {
		return invalid("snapshot.save_dir must be set when snapshots are enabled")
	}
	return nil
}

func invalid(msg string) error {
	return models.NewRunError(models.ErrCodeInvalidInput, msg, nil)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
