package main

import (
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Config is everything the server reads from its YAML config file.
// Lower-case fields are derived during validation.
type Config struct {
	ServerName string `yaml:"server_name"`
	Address    string `yaml:"address"`
	Port       uint16 `yaml:"port"`

	TLS *TLSConfig `yaml:"tls"`

	// Empty password means PASS is not required (clients implicitly
	// supply the empty password).
	Password string `yaml:"password"`

	MOTD []string `yaml:"motd"`

	// Mode letters applied to newly created channels, e.g. "nt".
	DefaultChannelMode string `yaml:"default_channel_mode"`

	Welcome WelcomeConfig `yaml:"welcome"`

	// Outbound messages per second per connection. Zero disables the
	// throttle.
	MessagesPerSecondLimit uint32 `yaml:"messages_per_second_limit"`

	// Liveness windows. Omit the section to disable PING/PONG policing.
	Timeout *TimeoutDurationsConfig `yaml:"timeout"`

	// How often the sweeper wakes to run liveness checks.
	WakeupInterval string `yaml:"wakeup_interval"`

	// Leaky-bucket burst for new connections from one IP.
	ConnectionsPerIP int `yaml:"connections_per_ip"`

	channelMode    channelMode
	timeout        *timeoutConfig
	wakeupInterval time.Duration
}

type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

type WelcomeConfig struct {
	SendISupport bool `yaml:"send_isupport"`
}

type TimeoutDurationsConfig struct {
	Base    string `yaml:"base"`
	Reduced string `yaml:"reduced"`
}

const defaultWakeupInterval = 30 * time.Second

// checkAndParseConfig reads and validates the config file. The path is
// resolved to an absolute one so reloads keep working after a chdir.
func checkAndParseConfig(file string) (*Config, error) {
	path, err := filepath.Abs(file)
	if err != nil {
		return nil, errors.Wrapf(err, "error resolving config path %s", file)
	}

	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	cfg := &Config{}
	if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	if cfg.ServerName == "" {
		return nil, errors.New("you must set a server name")
	}
	if cfg.Address == "" {
		return nil, errors.New("you must set a listen address")
	}
	if cfg.Port == 0 {
		return nil, errors.New("you must set a listen port")
	}
	if cfg.TLS != nil && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return nil, errors.New("tls requires both cert_path and key_path")
	}

	cfg.channelMode = defaultChannelMode
	if cfg.DefaultChannelMode != "" {
		mode, err := parseChannelMode(cfg.DefaultChannelMode)
		if err != nil {
			return nil, errors.Wrap(err, "invalid default_channel_mode")
		}
		cfg.channelMode = mode
	}

	if cfg.Timeout != nil {
		base, err := time.ParseDuration(cfg.Timeout.Base)
		if err != nil {
			return nil, errors.Wrap(err, "invalid timeout base")
		}
		reduced, err := time.ParseDuration(cfg.Timeout.Reduced)
		if err != nil {
			return nil, errors.Wrap(err, "invalid timeout reduced")
		}
		if base <= 0 || reduced <= 0 {
			return nil, errors.New("timeout durations must be positive")
		}
		if reduced > base {
			return nil, errors.New("reduced timeout must not exceed base")
		}
		cfg.timeout = &timeoutConfig{base: base, reduced: reduced}
	}

	cfg.wakeupInterval = defaultWakeupInterval
	if cfg.WakeupInterval != "" {
		interval, err := time.ParseDuration(cfg.WakeupInterval)
		if err != nil {
			return nil, errors.Wrap(err, "invalid wakeup_interval")
		}
		if interval <= 0 {
			return nil, errors.New("wakeup_interval must be positive")
		}
		cfg.wakeupInterval = interval
	}

	return cfg, nil
}
