package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// NumCameras is the fixed number of camera slots on the wall.
const NumCameras = 4

type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Cameras     []CameraConfig    `mapstructure:"cameras"`
	Player      PlayerConfig      `mapstructure:"player"`
	PTZ         PTZConfig         `mapstructure:"ptz"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	API         APIConfig         `mapstructure:"api"`
	Registry    RegistryConfig    `mapstructure:"registry"`
}

// CredentialsConfig holds default camera credentials, applied to any camera
// slot that does not carry its own.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CameraConfig is the persisted per-slot camera configuration.
type CameraConfig struct {
	IP           string `mapstructure:"ip" yaml:"ip"`
	Username     string `mapstructure:"username" yaml:"username,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	HQEnabled    bool   `mapstructure:"hq_enabled" yaml:"hq_enabled"`
	AudioEnabled bool   `mapstructure:"audio_enabled" yaml:"audio_enabled"`
}

type PlayerConfig struct {
	// Backend selects the decoder backend: "process" runs an external CLI
	// player per stream; anything else must be wired in by the embedder.
	Backend string `mapstructure:"backend"`

	// Command and ExtraArgs describe the CLI player invocation for the
	// process backend. The stream URL is appended as the last argument.
	Command   string   `mapstructure:"command"`
	ExtraArgs []string `mapstructure:"extra_args"`

	// FallbackWidth/FallbackHeight are assumed when the decoder never
	// reports a resolution.
	FallbackWidth  int `mapstructure:"fallback_width"`
	FallbackHeight int `mapstructure:"fallback_height"`
}

type PTZConfig struct {
	// Port is the ONVIF service port on the cameras.
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second
	RateBurst       int           `mapstructure:"rate_burst"`
}

type RegistryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Load reads the configuration file at configPath with environment variable
// overrides (QUADWATCH_ prefix) and validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("QUADWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// normalize pads or truncates the camera list to exactly NumCameras slots so
// the supervisor can index it blindly.
func (c *Config) normalize() {
	if len(c.Cameras) > NumCameras {
		c.Cameras = c.Cameras[:NumCameras]
	}
	for len(c.Cameras) < NumCameras {
		c.Cameras = append(c.Cameras, CameraConfig{HQEnabled: true, AudioEnabled: true})
	}
}

func setDefaults(v *viper.Viper) {
	// Player defaults
	v.SetDefault("player.backend", "process")
	v.SetDefault("player.command", "cvlc")
	v.SetDefault("player.extra_args", []string{
		"--no-video-title-show",
		"--network-caching=2000",
		"--live-caching=2000",
		"--rtsp-tcp",
		"--quiet",
	})
	v.SetDefault("player.fallback_width", 2304)
	v.SetDefault("player.fallback_height", 1296)

	// PTZ defaults
	v.SetDefault("ptz.port", 2020)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9091)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8084")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.shutdown_timeout", "5s")
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.rate_burst", 40)

	// Registry defaults
	v.SetDefault("registry.enabled", false)
	v.SetDefault("registry.redis_addr", "localhost:6379")
	v.SetDefault("registry.redis_db", 0)
	v.SetDefault("registry.ttl", "5m")
}
