// Package config handles configuration loading, validation, and defaults for
// the web keyboard helper.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// DefaultKeyboardID is the keyboard engine forced for numeric layouts.
const DefaultKeyboardID = "d75857a5-4148-4745-89e2-1da7ddaf7999"

// Config holds the complete helper configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Helper identifies the IME this process serves.
	Helper HelperConfig `toml:"helper" json:"helper" yaml:"helper"`

	// Container locates the rendering container module.
	Container ContainerConfig `toml:"container" json:"container" yaml:"container"`

	// Handshake configures the capability negotiation with the content.
	Handshake HandshakeConfig `toml:"handshake" json:"handshake" yaml:"handshake"`

	// WebSocket configures the socket-based protocol channel.
	WebSocket WebSocketConfig `toml:"websocket" json:"websocket" yaml:"websocket"`

	// Registry configures the content package registry.
	Registry RegistryConfig `toml:"registry" json:"registry" yaml:"registry"`

	// Host configures the D-Bus host boundary.
	Host HostConfig `toml:"host" json:"host" yaml:"host"`

	// Keyboard holds the initial keyboard size pairs.
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// HelperConfig identifies the IME and its keyboard engines.
type HelperConfig struct {
	// IMEID is the content package id selected for this helper.
	IMEID string `toml:"ime_id" json:"ime_id" yaml:"ime_id"`

	// KeyboardID is the keyboard engine used for non-numeric layouts until
	// the host reports another one.
	KeyboardID string `toml:"keyboard_id" json:"keyboard_id" yaml:"keyboard_id"`

	// DefaultKeyboardID is forced for the numeric layout family.
	DefaultKeyboardID string `toml:"default_keyboard_id" json:"default_keyboard_id" yaml:"default_keyboard_id"`
}

// ContainerConfig locates the rendering container module.
type ContainerConfig struct {
	// PluginPath is the shared module exporting the four container entry points.
	PluginPath string `toml:"plugin_path" json:"plugin_path" yaml:"plugin_path"`
}

// HandshakeConfig configures the version negotiation.
type HandshakeConfig struct {
	MagicKeyLength   int    `toml:"magic_key_length" json:"magic_key_length" yaml:"magic_key_length"`
	MagicKeyAlphabet string `toml:"magic_key_alphabet" json:"magic_key_alphabet" yaml:"magic_key_alphabet"`
	VersionDelimiter string `toml:"version_delimiter" json:"version_delimiter" yaml:"version_delimiter"`
	VersionTokens    int    `toml:"version_tokens" json:"version_tokens" yaml:"version_tokens"`
	PrepareCommand   string `toml:"prepare_command" json:"prepare_command" yaml:"prepare_command"`
	ActivateCommand  string `toml:"activate_command" json:"activate_command" yaml:"activate_command"`
	MaxCommandLength int    `toml:"max_command_length" json:"max_command_length" yaml:"max_command_length"`

	// DirectMajor, when non-zero, maps that major version to the in-process
	// direct channel in addition to the static table.
	DirectMajor int `toml:"direct_major" json:"direct_major" yaml:"direct_major"`
}

// WebSocketConfig configures the socket-based channel.
type WebSocketConfig struct {
	ListenAddr        string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
	Subprotocol       string `toml:"subprotocol" json:"subprotocol" yaml:"subprotocol"`
	KeyEventTimeoutMs int    `toml:"key_event_timeout_ms" json:"key_event_timeout_ms" yaml:"key_event_timeout_ms"`
	ReplyTimeoutMs    int    `toml:"reply_timeout_ms" json:"reply_timeout_ms" yaml:"reply_timeout_ms"`
	WriteTimeoutMs    int    `toml:"write_timeout_ms" json:"write_timeout_ms" yaml:"write_timeout_ms"`
}

// KeyEventTimeout is the bounded wait for a process_key_event reply.
func (w WebSocketConfig) KeyEventTimeout() time.Duration {
	return time.Duration(w.KeyEventTimeoutMs) * time.Millisecond
}

// ReplyTimeout is the bounded wait for other query replies.
func (w WebSocketConfig) ReplyTimeout() time.Duration {
	return time.Duration(w.ReplyTimeoutMs) * time.Millisecond
}

// WriteTimeout bounds a single frame write.
func (w WebSocketConfig) WriteTimeout() time.Duration {
	return time.Duration(w.WriteTimeoutMs) * time.Millisecond
}

// RegistryConfig configures the content package registry.
type RegistryConfig struct {
	// PackagesDir holds one directory per installed content package.
	PackagesDir string `toml:"packages_dir" json:"packages_dir" yaml:"packages_dir"`

	// DatabasePath is the sqlite index of scanned packages.
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path"`

	// Category a manifest must list to be treated as a keyboard.
	Category string `toml:"category" json:"category" yaml:"category"`

	// PackageType a manifest must declare (web packages are "wgt").
	PackageType string `toml:"package_type" json:"package_type" yaml:"package_type"`

	// Watch enables install/update detection.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`

	// DebounceMs coalesces bursts of file events from one install.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// HostConfig configures the D-Bus host boundary.
type HostConfig struct {
	BusName    string `toml:"bus_name" json:"bus_name" yaml:"bus_name"`
	ObjectPath string `toml:"object_path" json:"object_path" yaml:"object_path"`
}

// KeyboardConfig holds initial keyboard size pairs.
type KeyboardConfig struct {
	PortraitWidth   int `toml:"portrait_width" json:"portrait_width" yaml:"portrait_width"`
	PortraitHeight  int `toml:"portrait_height" json:"portrait_height" yaml:"portrait_height"`
	LandscapeWidth  int `toml:"landscape_width" json:"landscape_width" yaml:"landscape_width"`
	LandscapeHeight int `toml:"landscape_height" json:"landscape_height" yaml:"landscape_height"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DataDir()

	return &Config{
		Version: Version,
		Helper: HelperConfig{
			KeyboardID:        DefaultKeyboardID,
			DefaultKeyboardID: DefaultKeyboardID,
		},
		Container: ContainerConfig{
			PluginPath: "/usr/lib/webime/web-container.so",
		},
		Handshake: HandshakeConfig{
			MagicKeyLength:   32,
			MagicKeyAlphabet: "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz",
			VersionDelimiter: ".",
			VersionTokens:    2,
			PrepareCommand:   "WebHelperClient.impl.prepare",
			ActivateCommand:  "WebHelperClient.impl.activate",
			MaxCommandLength: 255,
		},
		WebSocket: WebSocketConfig{
			ListenAddr:        "localhost:7681",
			Subprotocol:       "keyboard-protocol",
			KeyEventTimeoutMs: 300,
			ReplyTimeoutMs:    300,
			WriteTimeoutMs:    1000,
		},
		Registry: RegistryConfig{
			PackagesDir:  filepath.Join(dataDir, "packages"),
			DatabasePath: filepath.Join(dataDir, "registry.db"),
			Category:     "ime",
			PackageType:  "wgt",
			Watch:        true,
			DebounceMs:   500,
		},
		Host: HostConfig{
			BusName:    "org.webime.Helper",
			ObjectPath: "/org/webime/Helper",
		},
		Keyboard: KeyboardConfig{
			PortraitWidth:   720,
			PortraitHeight:  442,
			LandscapeWidth:  1280,
			LandscapeHeight: 318,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(StateDir(), "helper.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the helper writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Registry.PackagesDir,
		filepath.Dir(c.Registry.DatabasePath),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with WEBIME_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WEBIME_IME_ID"); v != "" {
		c.Helper.IMEID = v
	}
	if v := os.Getenv("WEBIME_PLUGIN_PATH"); v != "" {
		c.Container.PluginPath = v
	}
	if v := os.Getenv("WEBIME_PACKAGES_DIR"); v != "" {
		c.Registry.PackagesDir = v
	}
	if v := os.Getenv("WEBIME_REGISTRY_DB"); v != "" {
		c.Registry.DatabasePath = v
	}
	if v := os.Getenv("WEBIME_LISTEN_ADDR"); v != "" {
		c.WebSocket.ListenAddr = v
	}
	if v := os.Getenv("WEBIME_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WEBIME_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}
