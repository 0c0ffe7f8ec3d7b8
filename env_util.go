package realtime

import "os"

const (
	// EnvURL is the environment variable holding the instance base URI.
	EnvURL = "COZY_URL"
	// EnvToken is the environment variable holding the session or OAuth token.
	EnvToken = "COZY_TOKEN"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}
