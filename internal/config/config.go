package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Status   StatusConfig   `mapstructure:"status"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Device   DeviceConfig   `mapstructure:"device"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt", "sqlite" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// MonitorConfig defines idle and sleep detection settings
type MonitorConfig struct {
	IdleThreshold      string   `mapstructure:"idle_threshold"`       // employees
	AdminIdleThreshold string   `mapstructure:"idle_threshold_admin"` // admins
	PollInterval       string   `mapstructure:"poll_interval"`
	IdleSource         string   `mapstructure:"idle_source"`   // "auto", "mutter", "logind" or "ioreg"
	SleepSources       []string `mapstructure:"sleep_sources"` // "power", "lock"
}

// Threshold returns the parsed idle threshold.
func (m MonitorConfig) Threshold() time.Duration {
	d, _ := time.ParseDuration(m.IdleThreshold)
	return d
}

// ThresholdFor returns the idle threshold for an account role. Admins get
// idle_threshold_admin, everyone else idle_threshold.
func (m MonitorConfig) ThresholdFor(role string) time.Duration {
	if role == "admin" {
		d, _ := time.ParseDuration(m.AdminIdleThreshold)
		return d
	}
	return m.Threshold()
}

// Interval returns the parsed poll interval.
func (m MonitorConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(m.PollInterval)
	return d
}

// StatusConfig defines live status settings
type StatusConfig struct {
	RefreshInterval string `mapstructure:"refresh_interval"`
	AccountCacheTTL string `mapstructure:"account_cache_ttl"`
	Concurrency     int    `mapstructure:"concurrency"`
}

// Refresh returns the parsed refresh interval.
func (s StatusConfig) Refresh() time.Duration {
	d, _ := time.ParseDuration(s.RefreshInterval)
	return d
}

// CacheTTL returns the parsed account cache TTL.
func (s StatusConfig) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(s.AccountCacheTTL)
	return d
}

// AdminConfig defines admin API settings
type AdminConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// Addr returns the listen address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.BindAddress, a.Port)
}

// MetricsConfig defines the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// Addr returns the listen address.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.BindAddress, m.Port)
}

// DeviceConfig identifies this machine to the accounting engine
type DeviceConfig struct {
	ID string `mapstructure:"id"`
}

// ScheduleConfig defines periodic session maintenance
type ScheduleConfig struct {
	AutoClockOut string `mapstructure:"auto_clock_out"` // HH:MM, empty disables
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("timekeeper")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/timekeeper")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TIMEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration built from defaults alone, without
// validation or environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Keys returns every configuration key that has a default.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/timekeeper/timekeeper.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Monitor defaults
	v.SetDefault("monitor.idle_threshold", "5m")
	v.SetDefault("monitor.idle_threshold_admin", "1m")
	v.SetDefault("monitor.poll_interval", "10s")
	v.SetDefault("monitor.idle_source", "auto")
	v.SetDefault("monitor.sleep_sources", []string{"power", "lock"})

	// Status defaults
	v.SetDefault("status.refresh_interval", "10s")
	v.SetDefault("status.account_cache_ttl", "30s")
	v.SetDefault("status.concurrency", 8)

	// Admin defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.bind_address", "127.0.0.1")
	v.SetDefault("admin.port", 8080)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9090)

	// Device defaults to the hostname when empty
	v.SetDefault("device.id", "")

	// Schedule defaults
	v.SetDefault("schedule.auto_clock_out", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "bolt"
	case "bolt", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.Type != "redis" {
		// Validate storage path
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	} else if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	durations := map[string]string{
		"monitor.idle_threshold":       cfg.Monitor.IdleThreshold,
		"monitor.idle_threshold_admin": cfg.Monitor.AdminIdleThreshold,
		"monitor.poll_interval":        cfg.Monitor.PollInterval,
		"status.refresh_interval":      cfg.Status.RefreshInterval,
		"status.account_cache_ttl":     cfg.Status.AccountCacheTTL,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	switch cfg.Monitor.IdleSource {
	case "", "auto", "mutter", "logind", "ioreg":
	default:
		return fmt.Errorf("unknown idle source: %s", cfg.Monitor.IdleSource)
	}
	for _, source := range cfg.Monitor.SleepSources {
		if source != "power" && source != "lock" {
			return fmt.Errorf("unknown sleep source: %s", source)
		}
	}

	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", cfg.Admin.Port)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	if cfg.Schedule.AutoClockOut != "" {
		if _, err := time.Parse("15:04", cfg.Schedule.AutoClockOut); err != nil {
			return fmt.Errorf("invalid schedule.auto_clock_out (want HH:MM): %s", cfg.Schedule.AutoClockOut)
		}
	}

	if cfg.Device.ID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Device.ID = host
		}
	}

	return nil
}
