// Package secret resolves the token signing secret and guards against the
// development fallback reaching a real deployment.
package secret

import (
	"fmt"
	"strings"

	"github.com/paywise/sendgate"
)

// DevFallback is the signing secret used when none is configured in a
// development-like environment. Tokens signed with it are forgeable by anyone
// who has read this file.
const DevFallback = "sendgate-development-secret-do-not-use-in-production"

// MinLength is the minimum secret length outside development, in bytes.
const MinLength = 32

var devEnvironments = map[string]bool{
	"development": true,
	"dev":         true,
	"local":       true,
	"test":        true,
}

// IsDevelopment reports whether environment is development-like.
func IsDevelopment(environment string) bool {
	return devEnvironments[strings.ToLower(strings.TrimSpace(environment))]
}

// Resolve returns the signing key for environment.
//
// In development an empty secret yields DevFallback. Elsewhere the secret
// must be set, must not be DevFallback and must be at least MinLength bytes.
func Resolve(raw, environment string) ([]byte, error) {
	if IsDevelopment(environment) {
		if raw == "" {
			return []byte(DevFallback), nil
		}
		return []byte(raw), nil
	}

	switch {
	case raw == "":
		return nil, fmt.Errorf("sendgate/secret: environment %q: %w", environment, sendgate.ErrMissingSecret)
	case raw == DevFallback:
		return nil, fmt.Errorf("sendgate/secret: environment %q: %w", environment, sendgate.ErrDevSecretInProduction)
	case len(raw) < MinLength:
		return nil, fmt.Errorf("sendgate/secret: %w: %d bytes, need %d", sendgate.ErrWeakSecret, len(raw), MinLength)
	}
	return []byte(raw), nil
}
