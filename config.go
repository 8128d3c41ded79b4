// Copyright 2026 The go-insnav Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package insnav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config describes how to reach a device and how the session behaves. It
// can be built in code from DefaultConfig or loaded from a YAML or TOML
// file with LoadConfig.
type Config struct {
	Address     string        `yaml:"address" toml:"address"`
	Device      string        `yaml:"device" toml:"device"`
	Transport   TransportType `yaml:"transport" toml:"transport"`
	Channel     ChannelConfig `yaml:"channel" toml:"channel"`
	Retry       RetryConfig   `yaml:"retry" toml:"retry"`
	Port        int           `yaml:"port" toml:"port"`
	BaudRate    int           `yaml:"baud_rate" toml:"baud_rate"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	DialTimeout time.Duration `yaml:"dial_timeout" toml:"dial_timeout"`
	TraceSize   int           `yaml:"trace_size" toml:"trace_size"`
	Strict      bool          `yaml:"strict" toml:"strict"`
	DisableCRC  bool          `yaml:"disable_crc" toml:"disable_crc"`
	Debug       bool          `yaml:"debug" toml:"debug"`
}

// ChannelConfig selects how Connect claims a channel.
type ChannelConfig struct {
	// Policy is one of none, fixed, ascending or descending.
	Policy string `yaml:"policy" toml:"policy"`
	// Number is the channel opened by the fixed policy.
	Number int `yaml:"number" toml:"number"`
}

// Config defaults.
const (
	DefaultBaudRate    = 115200
	DefaultDialTimeout = 5 * time.Second
)

// DefaultConfig returns a TCP configuration with every default filled in.
// Address must still be set.
func DefaultConfig() *Config {
	return &Config{
		Transport:   TransportTCP,
		Port:        DefaultPort,
		BaudRate:    DefaultBaudRate,
		Timeout:     DefaultTimeout,
		ReadTimeout: DefaultReadTimeout,
		DialTimeout: DefaultDialTimeout,
		TraceSize:   DefaultTraceSize,
		Retry:       *DefaultRetryConfig(),
		Channel:     ChannelConfig{Policy: PolicyNone},
	}
}

// LoadConfig reads a configuration file. The format follows the extension:
// .yaml or .yml for YAML, .toml for TOML. Keys that are absent keep their
// defaults; unknown keys are an error. The result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Address = strings.TrimSpace(c.Address)
	c.Device = strings.TrimSpace(c.Device)
	c.Transport = TransportType(strings.ToLower(strings.TrimSpace(string(c.Transport))))
	c.Channel.Policy = strings.ToLower(strings.TrimSpace(c.Channel.Policy))
	if c.Channel.Policy == "" {
		c.Channel.Policy = PolicyNone
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTCP:
		if c.Address == "" {
			return fmt.Errorf("%w: address is required for tcp", ErrInvalidConfig)
		}
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
		}
	case TransportUART:
		if c.Device == "" {
			return fmt.Errorf("%w: device is required for uart", ErrInvalidConfig)
		}
		if c.BaudRate <= 0 {
			return fmt.Errorf("%w: baud_rate must be > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported transport %q", ErrInvalidConfig, c.Transport)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout must be > 0", ErrInvalidConfig)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("%w: dial_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: retry.max_attempts must not be negative", ErrInvalidConfig)
	}

	switch c.Channel.Policy {
	case PolicyNone, PolicyAscending, PolicyDescending:
	case PolicyFixed:
		if err := validChannel(c.Channel.Number); err != nil {
			return fmt.Errorf("%w: channel.number: %w", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: unknown channel policy %q", ErrInvalidConfig, c.Channel.Policy)
	}
	return nil
}

// Endpoint returns the address handed to the transport factory: host:port
// for TCP, the device path for UART.
func (c *Config) Endpoint() string {
	if c.Transport == TransportUART {
		return c.Device
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Options converts the session settings into client options.
func (c *Config) Options() []Option {
	retry := c.Retry
	opts := []Option{
		WithTimeout(c.Timeout),
		WithReadTimeout(c.ReadTimeout),
		WithCRCCheck(!c.DisableCRC),
		WithTraceSize(c.TraceSize),
		WithRetryConfig(&retry),
	}
	if c.Strict {
		opts = append(opts, WithStrict())
	}
	return opts
}

// Connect opens a transport with factory, starts a session and claims a
// channel according to cfg.Channel. Dialing is retried per cfg.Retry.
// opts are applied after the ones derived from cfg.
//
// Example usage:
//
//	cfg, err := insnav.LoadConfig("ins.yaml")
//	...
//	client, err := insnav.Connect(ctx, cfg, tcp.Factory(cfg.DialTimeout))
func Connect(ctx context.Context, cfg *Config, factory TransportFactory, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: transport factory not provided", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debug {
		SetDebugEnabled(true)
	}

	endpoint := cfg.Endpoint()
	retry := cfg.Retry
	var transport Transport
	err := RetryWithConfig(ctx, &retry, func(ctx context.Context) error {
		var err error
		transport, err = factory(ctx, endpoint)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}

	all := append(cfg.Options(), WithTransportFactory(factory, endpoint))
	client, err := New(transport, append(all, opts...)...)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	if err := client.claimChannel(ctx, cfg.Channel); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) claimChannel(ctx context.Context, cc ChannelConfig) error {
	var err error
	switch cc.Policy {
	case PolicyFixed:
		err = c.OpenChannel(ctx, cc.Number)
	case PolicyAscending:
		_, err = c.AllocateChannelAscending(ctx)
	case PolicyDescending:
		_, err = c.AllocateChannelDescending(ctx)
	}
	return err
}
