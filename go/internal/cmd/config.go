package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/quizsync/go/internal/gateway"
	"github.com/mcdev12/quizsync/go/internal/roundtimer"
	"github.com/mcdev12/quizsync/go/internal/transport"
)

const (
	TransportSTOMP = "stomp"
	TransportNATS  = "nats"
)

type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`

	Transport struct {
		Kind     string `yaml:"kind"`
		WSURL    string `yaml:"ws_url"`
		NATSURL  string `yaml:"nats_url"`
		Login    string `yaml:"login"`
		Passcode string `yaml:"passcode"`
	} `yaml:"transport"`

	Reconnect struct {
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
	} `yaml:"reconnect"`

	Timer struct {
		Tick time.Duration `yaml:"tick"`
	} `yaml:"timer"`

	Identity struct {
		StateFile string `yaml:"state_file"`
	} `yaml:"identity"`

	Status struct {
		Addr string `yaml:"addr"`
	} `yaml:"status"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaultConfig() *Config {
	var c Config
	c.API.BaseURL = "http://localhost:8080/api"
	c.API.Timeout = 30 * time.Second
	c.Transport.Kind = TransportSTOMP
	c.Transport.WSURL = "ws://localhost:8080/ws"
	c.Transport.NATSURL = "nats://localhost:4222"

	rc := gateway.DefaultReconnectConfig()
	c.Reconnect.InitialDelay = rc.InitialDelay
	c.Reconnect.MaxDelay = rc.MaxDelay
	c.Reconnect.Multiplier = rc.Multiplier

	c.Timer.Tick = roundtimer.DefaultTick
	c.Log.Level = "info"

	// Without a config dir the identity lives only as long as the process.
	if dir, err := os.UserConfigDir(); err == nil {
		c.Identity.StateFile = filepath.Join(dir, "quizsync", "identity.yaml")
	}
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults and applies environment
// overrides. An empty path skips the file.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(config)

	stateFile, err := expandHome(config.Identity.StateFile)
	if err != nil {
		return nil, fmt.Errorf("identity.state_file: %w", err)
	}
	config.Identity.StateFile = stateFile

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func applyEnv(c *Config) {
	c.API.BaseURL = getEnv("QUIZSYNC_API_URL", c.API.BaseURL)
	c.Transport.Kind = strings.ToLower(getEnv("QUIZSYNC_TRANSPORT", c.Transport.Kind))
	c.Transport.WSURL = getEnv("QUIZSYNC_WS_URL", c.Transport.WSURL)
	c.Transport.NATSURL = getEnv("NATS_URL", c.Transport.NATSURL)
	c.Transport.Login = getEnv("QUIZSYNC_STOMP_LOGIN", c.Transport.Login)
	c.Transport.Passcode = getEnv("QUIZSYNC_STOMP_PASSCODE", c.Transport.Passcode)
	c.Identity.StateFile = getEnv("QUIZSYNC_STATE_FILE", c.Identity.StateFile)
	c.Status.Addr = getEnv("QUIZSYNC_STATUS_ADDR", c.Status.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if ms := getEnvAsInt("QUIZSYNC_TICK_MS", 0); ms > 0 {
		c.Timer.Tick = time.Duration(ms) * time.Millisecond
	}
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	switch c.Transport.Kind {
	case TransportSTOMP:
		if c.Transport.WSURL == "" {
			return errors.New("transport.ws_url is required for stomp")
		}
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			return errors.New("transport.nats_url is required for nats")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.InitialDelay > c.Reconnect.MaxDelay {
		return errors.New("reconnect.initial_delay exceeds reconnect.max_delay")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func (c *Config) reconnect() gateway.ReconnectConfig {
	return gateway.ReconnectConfig{
		InitialDelay: c.Reconnect.InitialDelay,
		MaxDelay:     c.Reconnect.MaxDelay,
		Multiplier:   c.Reconnect.Multiplier,
	}
}

// dialer builds the transport dialer for the configured kind.
func (c *Config) dialer() (transport.Dialer, error) {
	switch c.Transport.Kind {
	case TransportSTOMP:
		wsCfg := transport.DefaultWebSocketConfig(c.Transport.WSURL)
		wsCfg.Login = c.Transport.Login
		wsCfg.Passcode = c.Transport.Passcode
		return transport.NewWebSocketDialer(wsCfg), nil
	case TransportNATS:
		natsCfg := transport.DefaultNATSConfig()
		natsCfg.URL = c.Transport.NATSURL
		return transport.NewNATSDialer(natsCfg), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
}
