// Package config provides Viper-based configuration loading for the session browser.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// DiscoveryConfig holds LAN beacon listener settings.
type DiscoveryConfig struct {
	// Port is the UDP port the beacon listener binds.
	Port int `mapstructure:"port"`
	// EvictionWindow is how long a host survives without a fresh beacon.
	EvictionWindow time.Duration `mapstructure:"eviction_window"`
	// ReadBuffer is the size in bytes of the datagram receive buffer.
	ReadBuffer int `mapstructure:"read_buffer"`
	// QueueSize is the capacity of the pending datagram handoff.
	QueueSize int `mapstructure:"queue_size"`
}

// PresenceConfig holds social presence polling settings.
type PresenceConfig struct {
	// Enabled turns presence polling on.
	Enabled bool `mapstructure:"enabled"`
	// AppID is the application identifier friends must be running.
	AppID uint64 `mapstructure:"app_id"`
	// ConnectKey is the presence key whose value may carry a connection token.
	ConnectKey string `mapstructure:"connect_key"`
	// ConnectPrefix is the literal token prefix preceding the host id.
	ConnectPrefix string `mapstructure:"connect_prefix"`
	// PollInterval is the minimum time between two live provider queries.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Async moves provider queries onto a background worker.
	Async bool `mapstructure:"async"`
	// Fixture is an optional YAML file backing a file-based provider.
	Fixture string `mapstructure:"fixture"`
}

// CatalogConfig holds save/replay catalog settings.
type CatalogConfig struct {
	// SaveDir is the directory holding single-session saves.
	SaveDir string `mapstructure:"save_dir"`
	// ReplaysDir holds replay archives. Defaults to SaveDir/MpReplays.
	ReplaysDir string `mapstructure:"replays_dir"`
	// SaveExt is the extension of save files, including the dot.
	SaveExt string `mapstructure:"save_ext"`
	// ReplayExt is the extension of replay archives, including the dot.
	ReplayExt string `mapstructure:"replay_ext"`
	// MetadataEntry is the archive member holding the replay metadata document.
	MetadataEntry string `mapstructure:"metadata_entry"`
	// ParseSaveNames reads the world name out of each save file.
	ParseSaveNames bool `mapstructure:"parse_save_names"`
	// Watch rebuilds the catalog when either directory changes.
	Watch bool `mapstructure:"watch"`
	// Workers bounds concurrent archive metadata reads.
	Workers int `mapstructure:"workers"`
}

// Policies for direct addresses whose host:port split is ambiguous.
const (
	AmbiguousReject  = "reject"
	AmbiguousDefault = "default"
)

// DirectConfig holds direct-IP connection settings.
type DirectConfig struct {
	// DefaultPort is used when the address omits a port.
	DefaultPort int `mapstructure:"default_port"`
	// Ambiguous is the policy for inputs like "a:b:c": "reject" or "default".
	Ambiguous string `mapstructure:"ambiguous"`
}

// BrowserConfig holds driving loop settings.
type BrowserConfig struct {
	// TickInterval is the period of the coordinator tick loop.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Direct    DirectConfig    `mapstructure:"direct"`
	Browser   BrowserConfig   `mapstructure:"browser"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDiscovery(c.Discovery); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validatePresence(c.Presence); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateCatalog(c.Catalog); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDirect(c.Direct); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Browser.TickInterval <= 0 {
		errs = append(errs, fmt.Sprintf("browser.tick_interval must be > 0, got %s", c.Browser.TickInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateDiscovery(d DiscoveryConfig) error {
	var errs []string
	// Port 0 asks the kernel for an ephemeral port, which tests rely on.
	if d.Port < 0 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("discovery.port must be 0-65535, got %d", d.Port))
	}
	if d.EvictionWindow <= 0 {
		errs = append(errs, "discovery.eviction_window must be > 0")
	}
	if d.ReadBuffer < 64 {
		errs = append(errs, fmt.Sprintf("discovery.read_buffer must be >= 64, got %d", d.ReadBuffer))
	}
	if d.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("discovery.queue_size must be >= 1, got %d", d.QueueSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePresence(p PresenceConfig) error {
	if !p.Enabled {
		return nil
	}
	var errs []string
	if p.ConnectKey == "" {
		errs = append(errs, "presence.connect_key must not be empty")
	}
	if p.ConnectPrefix == "" {
		errs = append(errs, "presence.connect_prefix must not be empty")
	}
	if p.PollInterval <= 0 {
		errs = append(errs, "presence.poll_interval must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCatalog(c CatalogConfig) error {
	var errs []string
	if c.SaveDir == "" {
		errs = append(errs, "catalog.save_dir must not be empty")
	}
	if !strings.HasPrefix(c.ReplayExt, ".") {
		errs = append(errs, fmt.Sprintf("catalog.replay_ext must start with '.', got %q", c.ReplayExt))
	}
	if c.SaveExt != "" && !strings.HasPrefix(c.SaveExt, ".") {
		errs = append(errs, fmt.Sprintf("catalog.save_ext must start with '.', got %q", c.SaveExt))
	}
	if c.MetadataEntry == "" {
		errs = append(errs, "catalog.metadata_entry must not be empty")
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Sprintf("catalog.workers must be >= 1, got %d", c.Workers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDirect(d DirectConfig) error {
	var errs []string
	if d.DefaultPort < 1 || d.DefaultPort > 65535 {
		errs = append(errs, fmt.Sprintf("direct.default_port must be 1-65535, got %d", d.DefaultPort))
	}
	if d.Ambiguous != AmbiguousReject && d.Ambiguous != AmbiguousDefault {
		errs = append(errs, fmt.Sprintf("direct.ambiguous must be one of [reject, default], got %q", d.Ambiguous))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ReplaysPath returns the replay directory, deriving it from SaveDir when unset.
func (c CatalogConfig) ReplaysPath() string {
	if c.ReplaysDir != "" {
		return c.ReplaysDir
	}
	return filepath.Join(c.SaveDir, "MpReplays")
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults plus environment.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and MPB_ environment overrides applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MPB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("config: nil viper instance")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultSaveDir returns the platform save directory for the game.
func DefaultSaveDir() string {
	if x := os.Getenv("XDG_DATA_HOME"); x != "" {
		return filepath.Join(x, "mpbrowser", "Saves")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "Saves"
	}
	return filepath.Join(home, ".local", "share", "mpbrowser", "Saves")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("discovery.port", 5100)
	v.SetDefault("discovery.eviction_window", "5s")
	v.SetDefault("discovery.read_buffer", 2048)
	v.SetDefault("discovery.queue_size", 256)

	v.SetDefault("presence.enabled", false)
	v.SetDefault("presence.app_id", 294100)
	v.SetDefault("presence.connect_key", "connect")
	v.SetDefault("presence.connect_prefix", "connect://")
	v.SetDefault("presence.poll_interval", "2s")
	v.SetDefault("presence.async", false)
	v.SetDefault("presence.fixture", "")

	v.SetDefault("catalog.save_dir", DefaultSaveDir())
	v.SetDefault("catalog.replays_dir", "")
	v.SetDefault("catalog.save_ext", ".rws")
	v.SetDefault("catalog.replay_ext", ".zip")
	v.SetDefault("catalog.metadata_entry", "info")
	v.SetDefault("catalog.parse_save_names", false)
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.workers", 4)

	v.SetDefault("direct.default_port", 5100)
	v.SetDefault("direct.ambiguous", AmbiguousReject)

	v.SetDefault("browser.tick_interval", "50ms")
}
