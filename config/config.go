/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads and validates the proxy's runtime configuration:
// a YAML/TOML/JSON file read through viper, overridable by DEVPROXY_*
// environment variables, validated with go-playground/validator before
// any component is constructed from it.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	liberr "github.com/devproxy/interceptor/errors"
)

const pkgName = "devproxy/config"

const (
	ErrorConfigRead liberr.CodeError = iota + liberr.MinPkgConfig
	ErrorConfigValidate
)

func init() {
	if liberr.ExistInMapMessage(ErrorConfigRead) {
		panic("error code collision with package " + pkgName)
	}
	liberr.RegisterIdFctMessage(ErrorConfigRead, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case liberr.UnknownError:
		return liberr.NullMessage
	case ErrorConfigRead:
		return "configuration file could not be read or parsed"
	case ErrorConfigValidate:
		return "configuration failed validation"
	}
	return liberr.NullMessage
}

// Config is every tunable the §4 components need, flattened into one
// struct so cmd/devproxyd can validate it once and hand scoped views to
// each component's constructor.
type Config struct {
	// Listen is the address the MITM listener binds, e.g. "127.0.0.1:8080".
	Listen string `mapstructure:"listen" validate:"required,hostname_port"`

	// StorageRoot is the directory holding ca/, store/ and logs/.
	StorageRoot string `mapstructure:"storage_root" validate:"required"`

	// RingCapacity bounds the in-memory transaction ring (§4.2, I2).
	RingCapacity int `mapstructure:"ring_capacity" validate:"required,min=16"`

	// BodyInlineThreshold is the byte size above which a body is spilled
	// to store/bodies/ instead of being held inline in a ring entry.
	BodyInlineThreshold int64 `mapstructure:"body_inline_threshold" validate:"required,min=256"`

	// BreakpointDefaultTimeout is how long a suspended transaction waits
	// for a control-channel resolution before it is auto-resumed.
	BreakpointDefaultTimeout time.Duration `mapstructure:"breakpoint_default_timeout" validate:"required"`

	// DialTimeout, HandshakeTimeout and IdleTimeout bound the C4 pipeline
	// stages (§5).
	DialTimeout      time.Duration `mapstructure:"dial_timeout" validate:"required"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"required"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" validate:"required"`

	// TransactionTimeout bounds the total wall-clock lifetime of a single
	// transaction, independent of IdleTimeout's per-read gating (§4.4).
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout" validate:"required"`

	// MaxConnections caps concurrent pipeline instances (§5 resource model).
	MaxConnections int `mapstructure:"max_connections" validate:"required,min=1"`

	// ConnectionBufferCap is the per-connection byte budget used while
	// relaying bodies and WS frames before they are persisted.
	ConnectionBufferCap int64 `mapstructure:"connection_buffer_cap" validate:"required,min=4096"`

	// LeafCacheCapacity bounds the CA leaf-certificate LRU (§4.1, default 512).
	LeafCacheCapacity int `mapstructure:"leaf_cache_capacity" validate:"required,min=1"`

	// ControlListen is the bind address of the control surface (§4.7, §6).
	ControlListen string `mapstructure:"control_listen" validate:"required,hostname_port"`

	// LogLevel/LogFormat drive the logger package.
	LogLevel  string `mapstructure:"log_level" validate:"required"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=text json"`
}

// Defaults returns a Config pre-populated with the values the CLI falls
// back to when no flag or file sets them.
func Defaults() Config {
	return Config{
		Listen:                   "127.0.0.1:8080",
		StorageRoot:              "./devproxy-data",
		RingCapacity:             2048,
		BodyInlineThreshold:      64 * 1024,
		BreakpointDefaultTimeout: 30 * time.Second,
		DialTimeout:              10 * time.Second,
		HandshakeTimeout:         10 * time.Second,
		IdleTimeout:              90 * time.Second,
		TransactionTimeout:       300 * time.Second,
		MaxConnections:           512,
		ConnectionBufferCap:      4 * 1024 * 1024,
		LeafCacheCapacity:        512,
		ControlListen:            "127.0.0.1:8081",
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// Load reads path (if non-empty) through viper, applies DEVPROXY_*
// environment overrides over the supplied defaults, and validates the
// result. path may be empty, in which case only defaults and env vars
// apply.
func Load(path string, defaults Config) (Config, liberr.Error) {
	v := viper.New()
	v.SetEnvPrefix("DEVPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaults)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, ErrorConfigRead.Error(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, ErrorConfigRead.Error(err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, ErrorConfigValidate.Error(err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("listen", d.Listen)
	v.SetDefault("storage_root", d.StorageRoot)
	v.SetDefault("ring_capacity", d.RingCapacity)
	v.SetDefault("body_inline_threshold", d.BodyInlineThreshold)
	v.SetDefault("breakpoint_default_timeout", d.BreakpointDefaultTimeout)
	v.SetDefault("dial_timeout", d.DialTimeout)
	v.SetDefault("handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("idle_timeout", d.IdleTimeout)
	v.SetDefault("transaction_timeout", d.TransactionTimeout)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("connection_buffer_cap", d.ConnectionBufferCap)
	v.SetDefault("leaf_cache_capacity", d.LeafCacheCapacity)
	v.SetDefault("control_listen", d.ControlListen)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}
