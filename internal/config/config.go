package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type CaptureConfig struct {
	Driver      string        `mapstructure:"driver"`
	URL         string        `mapstructure:"url"`
	FPS         float64       `mapstructure:"fps"`
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	Mirror      bool          `mapstructure:"mirror"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
}

type DetectorConfig struct {
	Driver  string        `mapstructure:"driver"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ThrottleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type InboundConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type Config struct {
	Mode         string         `mapstructure:"mode"`
	Port         int            `mapstructure:"port"`
	LogLevel     string         `mapstructure:"log_level"`
	StaticPath   string         `mapstructure:"static_path"`
	ReadLimit    int64          `mapstructure:"read_limit"`
	PingPeriod   time.Duration  `mapstructure:"ping_period"`
	WriteWait    time.Duration  `mapstructure:"write_wait"`
	SendBuffer   int            `mapstructure:"send_buffer"`
	Secret       string         `mapstructure:"secret"`
	Backpressure string         `mapstructure:"backpressure"`
	Capture      CaptureConfig  `mapstructure:"capture"`
	Detector     DetectorConfig `mapstructure:"detector"`
	Throttle     ThrottleConfig `mapstructure:"throttle"`
	Inbound      InboundConfig  `mapstructure:"inbound"`
	Metrics      MetricsConfig  `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "")
	v.SetDefault("backpressure", "drop")

	v.SetDefault("capture.driver", "synthetic")
	v.SetDefault("capture.url", "")
	v.SetDefault("capture.fps", 15.0)
	v.SetDefault("capture.width", 640)
	v.SetDefault("capture.height", 480)
	v.SetDefault("capture.open_timeout", "5s")
	v.SetDefault("capture.mirror", true)
	v.SetDefault("capture.jpeg_quality", 75)

	v.SetDefault("detector.driver", "none")
	v.SetDefault("detector.url", "")
	v.SetDefault("detector.timeout", "2s")

	v.SetDefault("throttle.interval", "100ms")

	v.SetDefault("inbound.limit", 200)
	v.SetDefault("inbound.interval", "1s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config/config.<CONFIG_ENV>.yaml (or --config), then AIRBOARD_*
// environment variables, then command line flags.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("airboard", pflag.ContinueOnError)
	file := fs.String("config", "", "config file path")
	fs.Int("port", 8000, "listen port")
	fs.String("log-level", "info", "log level")
	fs.String("mode", "release", "gin mode: release or debug")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fileName := *file
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) && !isPathError(err) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	v.SetEnvPrefix("AIRBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{"port": "port", "log_level": "log-level", "mode": "mode"} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("capture", cfg.Capture.Driver).
		Str("detector", cfg.Detector.Driver).
		Dur("throttle", cfg.Throttle.Interval).
		Msg("config ready")
	return &cfg, nil
}

func isPathError(err error) bool {
	var pe *os.PathError
	return errors.As(err, &pe)
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.Port <= 0 || cfg.Port > 65535:
		return fmt.Errorf("port %d out of range", cfg.Port)
	case cfg.ReadLimit <= 0:
		return fmt.Errorf("read_limit must be positive")
	case cfg.PingPeriod <= 0 || cfg.WriteWait <= 0:
		return fmt.Errorf("ping_period and write_wait must be positive")
	case cfg.SendBuffer < 1:
		return fmt.Errorf("send_buffer must be at least 1")
	case cfg.Throttle.Interval <= 0:
		return fmt.Errorf("throttle.interval must be positive")
	case cfg.Inbound.Limit < 1 || cfg.Inbound.Interval <= 0:
		return fmt.Errorf("inbound.limit and inbound.interval must be positive")
	case cfg.Capture.FPS <= 0:
		return fmt.Errorf("capture.fps must be positive")
	case cfg.Capture.Driver == "mjpeg" && cfg.Capture.URL == "":
		return fmt.Errorf("capture.url is required for the mjpeg driver")
	case cfg.Detector.Driver == "http" && cfg.Detector.URL == "":
		return fmt.Errorf("detector.url is required for the http detector")
	}
	return nil
}
