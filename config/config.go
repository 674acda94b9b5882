// Package config loads duplex-rpc settings from YAML. Missing keys keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"duplex-rpc/codec"
	"duplex-rpc/protocol"
	"duplex-rpc/transport"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Dial      DialConfig      `yaml:"dial"`
	RPC       RPCConfig       `yaml:"rpc"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ListenConfig struct {
	Port int `yaml:"port"`
}

// DialConfig addresses the single peer of a dialing process.
type DialConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LocalPort int    `yaml:"local_port"` // 0 = same as Port, -1 = chosen by the OS
}

type RPCConfig struct {
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"` // 0 = 10 × ResponseTimeout
	Codec           string        `yaml:"codec"`          // json or cbor
	RateLimit       float64       `yaml:"rate_limit"`     // Inbound requests per second, 0 = unlimited
	RateBurst       int           `yaml:"rate_burst"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"` // 0 = unbounded
	HandlerRetries  int           `yaml:"handler_retries"` // Re-invocations after a handler timeout
}

type TransportConfig struct {
	TransmissionTimeout time.Duration `yaml:"transmission_timeout"`
	SuppressErrors      bool          `yaml:"suppress_errors"`
	StopOnError         bool          `yaml:"stop_on_error"`
	MaxPayload          int           `yaml:"max_payload"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	ToConsole  bool   `yaml:"to_console"`
	File       string `yaml:"file"` // Empty disables file output
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the /metrics endpoint
}

func Default() *Config {
	return &Config{
		Dial: DialConfig{Host: "127.0.0.1"},
		RPC: RPCConfig{
			ResponseTimeout: 15 * time.Second,
			Codec:           "json",
		},
		Transport: TransportConfig{
			TransmissionTimeout: transport.DefaultTransmissionTimeout,
			SuppressErrors:      true,
			MaxPayload:          protocol.DefaultMaxPayload,
		},
		Log: LogConfig{
			Level:      "info",
			ToConsole:  true,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Dial.Port < 0 || c.Dial.Port > 65535 {
		errs = append(errs, fmt.Errorf("dial.port %d out of range", c.Dial.Port))
	}
	if c.Dial.LocalPort < -1 || c.Dial.LocalPort > 65535 {
		errs = append(errs, fmt.Errorf("dial.local_port %d out of range", c.Dial.LocalPort))
	}
	if c.RPC.ResponseTimeout <= 0 {
		errs = append(errs, errors.New("rpc.response_timeout must be positive"))
	}
	if c.RPC.SweepInterval < 0 {
		errs = append(errs, errors.New("rpc.sweep_interval must not be negative"))
	}
	if _, err := codec.ParseCodecType(c.RPC.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.RPC.RateLimit < 0 || (c.RPC.RateLimit > 0 && c.RPC.RateBurst <= 0) {
		errs = append(errs, errors.New("rpc.rate_limit needs a positive rate_burst"))
	}
	if c.RPC.HandlerTimeout < 0 || c.RPC.HandlerRetries < 0 {
		errs = append(errs, errors.New("rpc.handler_timeout and rpc.handler_retries must not be negative"))
	}
	if c.Transport.TransmissionTimeout < 0 {
		errs = append(errs, errors.New("transport.transmission_timeout must not be negative"))
	}
	if c.Transport.MaxPayload <= 0 {
		errs = append(errs, errors.New("transport.max_payload must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// TransportOptions converts the transport section for transport.NewDuplexConn.
func (c *Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.TransmissionTimeout = c.Transport.TransmissionTimeout
	opts.SuppressErrors = c.Transport.SuppressErrors
	opts.StopOnError = c.Transport.StopOnError
	opts.MaxPayload = c.Transport.MaxPayload
	return opts
}
