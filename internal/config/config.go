// Package config loads the daemon's configuration from environment
// variables, an optional .env file, and command-line flags, grounded in
// i4energy-sms-gateway's functional-options Config (config.go) and
// iwtcode-fanucAdapter's godotenv-based loader (internal/config/config.go).
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig is the daemon's configuration.
type AppConfig struct {
	TransportKind string // "serial" or "socket"
	SerialPort    string
	BaudRate      int
	SocketAddr    string

	WSListenAddr string

	Logging LoggerConfig

	IgnoreErrors bool
}

// LoggerConfig mirrors iwtcode-fanucAdapter's LoggerConfig shape.
type LoggerConfig struct {
	Enable     bool
	LogsDir    string
	Level      string
	SavingDays int
}

// Option mutates an AppConfig during LoadConfiguration.
type Option func(*AppConfig) error

// LoadConfiguration applies opts in order, same functional-options shape
// as i4energy-sms-gateway's LoadConfig.
func LoadConfiguration(opts ...Option) (*AppConfig, error) {
	cfg := &AppConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithDefaults applies the baseline configuration.
func WithDefaults() Option {
	return func(c *AppConfig) error {
		c.TransportKind = "serial"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.SocketAddr = "127.0.0.1:23"
		c.WSListenAddr = ":8989"
		c.Logging = LoggerConfig{Enable: true, LogsDir: "", Level: "info", SavingDays: 7}
		return nil
	}
}

// WithEnv loads a .env file (if present) then overlays environment
// variables.
func WithEnv() Option {
	return func(c *AppConfig) error {
		_ = godotenv.Load()

		if v := os.Getenv("CNC_TRANSPORT"); v != "" {
			c.TransportKind = v
		}
		if v := os.Getenv("CNC_SERIAL_PORT"); v != "" {
			c.SerialPort = v
		}
		if v := os.Getenv("CNC_BAUD_RATE"); v != "" {
			if b, err := strconv.Atoi(v); err == nil {
				c.BaudRate = b
			}
		}
		if v := os.Getenv("CNC_SOCKET_ADDR"); v != "" {
			c.SocketAddr = v
		}
		if v := os.Getenv("CNC_WS_LISTEN_ADDR"); v != "" {
			c.WSListenAddr = v
		}
		if v := os.Getenv("CNC_LOG_LEVEL"); v != "" {
			c.Logging.Level = v
		}
		if v := os.Getenv("CNC_LOG_DIR"); v != "" {
			c.Logging.LogsDir = v
		}
		if v := os.Getenv("CNC_IGNORE_ERRORS"); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				c.IgnoreErrors = b
			}
		}
		return nil
	}
}

// WithFlags overlays values parsed from a flag.FlagSet.
func WithFlags(fSet *flag.FlagSet) Option {
	return func(c *AppConfig) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "transport":
				c.TransportKind = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "socket-addr":
				c.SocketAddr = f.Value.String()
			case "ws-listen-addr":
				c.WSListenAddr = f.Value.String()
			case "log-level":
				c.Logging.Level = f.Value.String()
			case "ignore-errors":
				if b, err := strconv.ParseBool(f.Value.String()); err == nil {
					c.IgnoreErrors = b
				}
			}
		})
		return nil
	}
}
