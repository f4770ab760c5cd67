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

// EnvPrefix namespaces environment overrides, e.g. AEGIS_HTTP_PORT.
const EnvPrefix = "AEGIS"

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	HTTPPort   int    `mapstructure:"http_port"`
	StreamAddr string `mapstructure:"stream_addr"`
	UDPAddr    string `mapstructure:"udp_addr"`

	ReadLimit    int           `mapstructure:"read_limit"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`
	SlowConsumer     string        `mapstructure:"slow_consumer"`

	DropLogInterval time.Duration `mapstructure:"drop_log_interval"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"http-port":   "http_port",
	"stream-addr": "stream_addr",
	"udp-addr":    "udp_addr",
	"log-level":   "log_level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", 8080)
	v.SetDefault("stream_addr", ":9000")
	v.SetDefault("udp_addr", ":9001")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("chat_rate_limit", 20)
	v.SetDefault("chat_rate_interval", "10s")
	v.SetDefault("slow_consumer", "drop")
	v.SetDefault("drop_log_interval", "1s")
}

// NewFlagSet declares the command-line overrides understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("http-port", 8080, "signaling facade HTTP port")
	fs.String("stream-addr", ":9000", "TCP stream listen address")
	fs.String("udp-addr", ":9001", "UDP relay listen address")
	fs.String("log-level", "info", "zerolog level")
	return fs
}

// Load resolves configuration from, in rising precedence: defaults, the YAML
// file, AEGIS_* environment variables and command-line flags.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("aegistalk")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	fileName, explicit := fs.Lookup("config").Value.String(), true
	if fileName == "" {
		explicit = false
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("http_port", cfg.HTTPPort).
		Str("stream_addr", cfg.StreamAddr).Str("udp_addr", cfg.UDPAddr).Msg("config resolved")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive, got %d", c.ReadLimit)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.ChatRateLimit > 0 && c.ChatRateInterval <= 0 {
		return errors.New("chat_rate_interval must be positive when chat_rate_limit is set")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
