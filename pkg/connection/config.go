package connection

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cozy/realtime.go/internal/codec"
	"github.com/cozy/realtime.go/pkg/constants"
	"github.com/cozy/realtime.go/pkg/logger"
)

// Config is what a transport needs to reach the realtime endpoint.
type Config struct {
	// URL is the websocket URL, as returned by SocketURL.
	URL string
	// Header is sent with the handshake. Origin is derived from the base URI when unset.
	Header http.Header

	Marshaler codec.Marshaler
	Logger    logger.Logger

	// WriteTimeout bounds every command write. Zero disables it.
	WriteTimeout time.Duration
}

// NewConfig creates a Config for the instance at baseURI, for example
// "https://alice.cozy.example".
func NewConfig(baseURI string) (*Config, error) {
	socketURL, err := SocketURL(baseURI)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if origin, err := origin(baseURI); err == nil {
		header.Set("Origin", origin)
	}

	return &Config{
		URL:          socketURL,
		Header:       header,
		Marshaler:    codec.JSON{},
		Logger:       logger.Default(),
		WriteTimeout: constants.DefaultWriteTimeout,
	}, nil
}

// SocketURL maps an HTTP(S) instance URI to its realtime websocket URL:
// http becomes ws, https becomes wss, and "realtime/" is appended to the path.
func SocketURL(baseURI string) (string, error) {
	u, err := url.Parse(baseURI)
	if err != nil {
		return "", fmt.Errorf("invalid base uri %q: %w", baseURI, err)
	}

	switch u.Scheme {
	case constants.HTTPScheme, constants.WebsocketScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme, constants.SecureWebsocketScheme:
		u.Scheme = constants.SecureWebsocketScheme
	default:
		return "", fmt.Errorf("%w: %q", constants.ErrUnsupportedScheme, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("invalid base uri %q: missing host", baseURI)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + constants.RealtimePath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

func origin(baseURI string) (string, error) {
	u, err := url.Parse(baseURI)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case constants.WebsocketScheme:
		u.Scheme = constants.HTTPScheme
	case constants.SecureWebsocketScheme:
		u.Scheme = constants.HTTPSecureScheme
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}
