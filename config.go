package realtime

import (
	"github.com/cozy/realtime.go/pkg/connection"
	"github.com/cozy/realtime.go/pkg/connection/gorillaws"
	"github.com/cozy/realtime.go/pkg/connection/rews"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/logger"
	"github.com/cozy/realtime.go/pkg/session"
)

// Config configures a Realtime client.
type Config struct {
	// Session provides the token and the login/tokenRefreshed signals.
	Session session.Provider

	// Transport describes how to reach the realtime endpoint.
	Transport *connection.Config

	// NewTransport creates the websocket transport. Defaults to gorillaws.New;
	// gws.New is the alternative.
	NewTransport connection.NewFunc

	// Retryer decides how lost connections are retried.
	// Defaults to a fixed 10s delay, 60 times.
	Retryer rews.Retryer

	Logger logger.Logger
}

// NewConfig returns a Config with defaults for the instance at baseURI,
// for example "https://alice.cozy.example".
func NewConfig(baseURI string, sess session.Provider) (*Config, error) {
	if sess == nil {
		return nil, constants.ErrNoSession
	}

	transport, err := connection.NewConfig(baseURI)
	if err != nil {
		return nil, err
	}

	log := logger.Default()
	transport.Logger = log

	return &Config{
		Session:      sess,
		Transport:    transport,
		NewTransport: gorillaws.New,
		Retryer:      rews.DefaultRetryPolicy(),
		Logger:       log,
	}, nil
}

// WithLogger sets the logger of the client and of its transport.
func (c *Config) WithLogger(l logger.Logger) *Config {
	c.Logger = l
	if c.Transport != nil {
		c.Transport.Logger = l
	}
	return c
}
