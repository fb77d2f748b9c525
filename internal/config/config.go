// Package config provides the runtime settings for portalchat: defaults,
// optional YAML file, .env file and environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/portalchat/internal/chat"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverBadger = "badger"
)

// Config holds the server configuration.
type Config struct {
	Port           string `yaml:"port" env:"SERVER_PORT" validate:"required"`
	AllowedOrigins string `yaml:"allowedOrigins" env:"ALLOWED_ORIGINS"`

	// MaxWireMessageSize bounds inbound chat messages in bytes; 0 means unrestricted.
	MaxWireMessageSize int `yaml:"maxWireMessageSize" env:"MAX_WIRE_MESSAGE_SIZE" validate:"gte=0"`
	MaxSenderLength    int `yaml:"maxSenderLength" env:"MAX_SENDER_LENGTH" validate:"gte=1"`
	TimestampOverhead  int `yaml:"timestampOverhead" env:"TIMESTAMP_OVERHEAD" validate:"gte=0"`
	// MaxFrameSize is the transport read ceiling. Frames above it close the connection.
	MaxFrameSize int   `yaml:"maxFrameSize" env:"MAX_FRAME_SIZE" validate:"gt=0"`
	SendBuffer   int   `yaml:"sendBuffer" env:"SEND_BUFFER" validate:"gt=0"`

	StoreDriver string `yaml:"storeDriver" env:"STORE_DRIVER" validate:"oneof=file badger"`
	StorePath   string `yaml:"storePath" env:"STORE_PATH" validate:"required"`

	ReplayHistory  bool   `yaml:"replayHistory" env:"REPLAY_HISTORY"`
	AnonymousName  string `yaml:"anonymousName" env:"ANONYMOUS_NAME"`
	DebugEndpoints bool   `yaml:"debugEndpoints" env:"DEBUG_ENDPOINTS"`

	LogLevel string `yaml:"logLevel" env:"LOG_LEVEL" validate:"oneof=trace debug info warn warning error"`
	LogFile  string `yaml:"logFile" env:"LOG_FILE"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:               ":80",
		AllowedOrigins:     "*",
		MaxWireMessageSize: 256,
		MaxSenderLength:    chat.DefaultMaxSenderLength,
		TimestampOverhead:  chat.DefaultTimestampOverhead,
		MaxFrameSize:       4096,
		SendBuffer:         64,
		StoreDriver:        DriverFile,
		StorePath:          "chat.log",
		AnonymousName:      "unknown",
		LogLevel:           "info",
	}
}

// Load builds a Config from defaults, then the YAML file at path (if path is
// not empty), then a .env file in the working directory (if present), then
// the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := FromEnviron(&cfg, os.Environ()); err != nil {
		return Config{}, err
	}

	cfg = sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnviron applies KEY=value pairs onto cfg. Unset keys keep their value.
func FromEnviron(cfg *Config, environ []string) error {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if _, err := env.Unmarshal(es, cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

func sanitize(cfg Config) Config {
	cfg.Port = strings.TrimSpace(cfg.Port)
	if cfg.Port != "" && !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return cfg
}

var validate = validator.New()

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Origins returns the configured WebSocket origins as a list.
func (c Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// MaxTextLength is the advertised client text limit; ok is false when unrestricted.
func (c Config) MaxTextLength() (n int, ok bool) {
	return chat.MaxTextLength(c.MaxWireMessageSize, c.MaxSenderLength, c.TimestampOverhead)
}

// Codec returns the message codec enforcing this configuration's bounds.
func (c Config) Codec() chat.Codec {
	return chat.NewCodec(c.MaxWireMessageSize, c.MaxSenderLength)
}
