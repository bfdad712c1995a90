package api

import "os"

// StaticToken is a fixed-token provider. An empty token means
// unauthenticated; requests fail closed on the server side.
type StaticToken string

func (s StaticToken) Token() (string, bool) {
	if s == "" {
		return "", false
	}
	return string(s), true
}

// EnvToken reads the token from an environment variable on every call,
// so a rotated token is picked up without a restart.
type EnvToken string

func (e EnvToken) Token() (string, bool) {
	v := os.Getenv(string(e))
	if v == "" {
		return "", false
	}
	return v, true
}
