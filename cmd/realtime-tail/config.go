package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	realtime "github.com/cozy/realtime.go"
	"github.com/cozy/realtime.go/pkg/connection/rews"
	"github.com/cozy/realtime.go/pkg/models"
	"github.com/cozy/realtime.go/pkg/session"
)

const (
	transportGorilla = "gorilla"
	transportGWS     = "gws"

	formatText = "text"
	formatJSON = "json"

	backoffFixed       = "fixed"
	backoffExponential = "exponential"
)

// Config is the YAML configuration of realtime-tail.
// ${VAR} references are expanded from the environment before parsing.
//
//	url: https://alice.cozy.example
//	session:
//	  token: ${COZY_TOKEN}
//	transport: gws
//	retry:
//	  backoff: exponential
//	  delay: 1s
//	  max_delay: 1m
//	  limit: 10
//	subscriptions:
//	  - created/io.cozy.files
//	  - updated/io.cozy.files/abc
type Config struct {
	URL           string        `yaml:"url"`
	Session       session.Token `yaml:"session"`
	Transport     string        `yaml:"transport"`
	Format        string        `yaml:"format"`
	Retry         RetryConfig   `yaml:"retry"`
	Subscriptions []string      `yaml:"subscriptions"`
}

// RetryConfig selects how lost connections are retried. With the fixed
// backoff every attempt waits Delay; with the exponential one Delay is the
// first wait, doubled up to MaxDelay.
type RetryConfig struct {
	Backoff  string        `yaml:"backoff"`
	Delay    time.Duration `yaml:"delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	// Limit is a pointer so that an explicit 0 (never retry) survives defaults.
	Limit *int `yaml:"limit"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads path, or starts from an empty config when path is
// empty, then applies defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = realtime.GetEnvOrDefault(realtime.EnvURL, "")
	}
	if c.Session.Token == "" && c.Session.AccessToken == "" {
		c.Session.Token = realtime.GetEnvOrDefault(realtime.EnvToken, "")
	}
	if c.Transport == "" {
		c.Transport = transportGorilla
	}
	if c.Format == "" {
		c.Format = formatText
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = backoffFixed
	}
	def := rews.DefaultRetryPolicy()
	if c.Retry.Delay == 0 {
		c.Retry.Delay = def.Delay
		if c.Retry.Backoff == backoffExponential {
			c.Retry.Delay = rews.NewExponentialBackoffRetryer().InitialDelay
		}
	}
	if c.Retry.Limit == nil {
		limit := def.Limit
		c.Retry.Limit = &limit
	}
}

// Validate checks the config and returns the parsed subscription keys.
func (c *Config) Validate() ([]models.SubscriptionKey, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("url is required (flag, config file or %s)", realtime.EnvURL)
	}
	if _, ok := session.AuthToken(&c.Session); !ok {
		return nil, fmt.Errorf("a token is required (flag, config file or %s)", realtime.EnvToken)
	}
	switch c.Transport {
	case transportGorilla, transportGWS:
	default:
		return nil, fmt.Errorf("invalid transport %q: must be %s or %s", c.Transport, transportGorilla, transportGWS)
	}
	switch c.Format {
	case formatText, formatJSON:
	default:
		return nil, fmt.Errorf("invalid format %q: must be %s or %s", c.Format, formatText, formatJSON)
	}
	switch c.Retry.Backoff {
	case backoffFixed, backoffExponential:
	default:
		return nil, fmt.Errorf("invalid retry backoff %q: must be %s or %s", c.Retry.Backoff, backoffFixed, backoffExponential)
	}
	if c.Retry.Delay < 0 {
		return nil, errors.New("retry delay must not be negative")
	}
	if c.Retry.MaxDelay != 0 && c.Retry.MaxDelay < c.Retry.Delay {
		return nil, errors.New("retry max_delay must not be lower than delay")
	}
	if c.Retry.Limit != nil && *c.Retry.Limit < 0 {
		return nil, errors.New("retry limit must not be negative")
	}
	if len(c.Subscriptions) == 0 {
		return nil, errors.New("at least one subscription is required")
	}

	keys := make([]models.SubscriptionKey, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		key, err := models.ParseKey(s)
		if err != nil {
			return nil, err
		}
		if err := key.Validate(); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *Config) retryer() rews.Retryer {
	if c.Retry.Backoff == backoffExponential {
		r := rews.NewExponentialBackoffRetryer()
		r.InitialDelay = c.Retry.Delay
		r.MaxRetries = *c.Retry.Limit
		if c.Retry.MaxDelay > 0 {
			r.MaxDelay = c.Retry.MaxDelay
		}
		if r.MaxDelay < r.InitialDelay {
			r.MaxDelay = r.InitialDelay
		}
		return r
	}
	return rews.RetryPolicy{Delay: c.Retry.Delay, Limit: *c.Retry.Limit}
}
