// Package config loads daemon configuration from a YAML file, environment
// variables (prefix COLDWATCH_) and an optional .env.local file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sweeney/coldwatch/internal/auth"
)

// EnvPrefix is prepended to every environment override:
// thingspeak.read_api_key is read from COLDWATCH_THINGSPEAK_READ_API_KEY.
const EnvPrefix = "COLDWATCH"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config is the full daemon configuration.
type Config struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	ThingSpeak struct {
		BaseURL     string        `mapstructure:"base_url"`
		ChannelID   string        `mapstructure:"channel_id"`
		ReadAPIKey  string        `mapstructure:"read_api_key"`
		WriteAPIKey string        `mapstructure:"write_api_key"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"thingspeak"`

	Monitor struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		HistorySeed  int           `mapstructure:"history_seed"`
	} `mapstructure:"monitor"`

	Store struct {
		Backend string `mapstructure:"backend"`
		Path    string `mapstructure:"path"`
		Redis   struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`
	} `mapstructure:"store"`

	Alert struct {
		RelayURL   string        `mapstructure:"relay_url"`
		RelayToken string        `mapstructure:"relay_token"`
		Timeout    time.Duration `mapstructure:"timeout"`
		MQTT       bool          `mapstructure:"mqtt"`
		AMQP       struct {
			URL        string `mapstructure:"url"`
			Exchange   string `mapstructure:"exchange"`
			RoutingKey string `mapstructure:"routing_key"`
		} `mapstructure:"amqp"`
	} `mapstructure:"alert"`

	MQTT struct {
		Broker   string `mapstructure:"broker"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"mqtt"`

	GPIO struct {
		// Chip is the gpiochip device; empty disables the alarm output.
		Chip     string `mapstructure:"chip"`
		AlarmPin int    `mapstructure:"alarm_pin"`
	} `mapstructure:"gpio"`

	Auth auth.Config `mapstructure:"auth"`

	Chat struct {
		// RelayURL is where /api/chat forwards to. Empty means this
		// daemon's own relay when a gateway key is set.
		RelayURL   string `mapstructure:"relay_url"`
		RelayToken string `mapstructure:"relay_token"`
		Gateway    struct {
			URL     string        `mapstructure:"url"`
			APIKey  string        `mapstructure:"api_key"`
			Model   string        `mapstructure:"model"`
			Timeout time.Duration `mapstructure:"timeout"`
		} `mapstructure:"gateway"`
	} `mapstructure:"chat"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("thingspeak.base_url", "https://api.thingspeak.com")
	v.SetDefault("thingspeak.channel_id", "")
	v.SetDefault("thingspeak.read_api_key", "")
	v.SetDefault("thingspeak.write_api_key", "")
	v.SetDefault("thingspeak.timeout", 10*time.Second)

	v.SetDefault("monitor.poll_interval", 15*time.Second)
	v.SetDefault("monitor.history_seed", 100)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "coldwatch-state.json")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "coldwatch:")

	v.SetDefault("alert.relay_url", "")
	v.SetDefault("alert.relay_token", "")
	v.SetDefault("alert.timeout", 10*time.Second)
	v.SetDefault("alert.mqtt", true)
	v.SetDefault("alert.amqp.url", "")
	v.SetDefault("alert.amqp.exchange", "coldwatch.alerts")
	v.SetDefault("alert.amqp.routing_key", "sensor.critical")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "coldwatch")

	v.SetDefault("gpio.chip", "")
	v.SetDefault("gpio.alarm_pin", 17)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.allow_signup", false)

	v.SetDefault("chat.relay_url", "")
	v.SetDefault("chat.relay_token", "")
	v.SetDefault("chat.gateway.url", "https://ai.gateway.lovable.dev/v1/chat/completions")
	v.SetDefault("chat.gateway.api_key", "")
	v.SetDefault("chat.gateway.model", "google/gemini-3-flash-preview")
	v.SetDefault("chat.gateway.timeout", 30*time.Second)
}

// Load reads envFile (if it exists) into the environment, then the config
// file at path. An empty path looks for coldwatch.yaml in the working
// directory; a missing file is not an error, so the daemon can be
// configured from the environment alone.
func Load(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("coldwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		log.Printf("config: no config file, using defaults and environment")
	} else {
		log.Printf("config: loaded %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first problem that would stop the daemon working.
func (c Config) Validate() error {
	if c.ThingSpeak.ChannelID == "" {
		return errors.New("thingspeak.channel_id is required")
	}
	if c.ThingSpeak.ReadAPIKey == "" {
		return errors.New("thingspeak.read_api_key is required")
	}
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive, got %v", c.Monitor.PollInterval)
	}
	if c.Monitor.HistorySeed <= 0 {
		return fmt.Errorf("monitor.history_seed must be positive, got %d", c.Monitor.HistorySeed)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	case BackendFile:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the file backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, file, redis", c.Store.Backend)
	}
	if c.AuthEnabled() && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when users are configured")
	}
	if c.GPIO.AlarmPin < 0 {
		return fmt.Errorf("gpio.alarm_pin must not be negative, got %d", c.GPIO.AlarmPin)
	}
	return nil
}

// AuthEnabled reports whether sign-in is required.
func (c Config) AuthEnabled() bool {
	return len(c.Auth.Users) > 0 || c.Auth.AllowSignUp
}
