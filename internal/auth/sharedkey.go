package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Shared-secret mode errors. The API layer maps these to 401, 403 and 500
// respectively.
var (
	ErrKeyMissing      = errors.New("auth: missing api key")
	ErrKeyMismatch     = errors.New("auth: invalid api key")
	ErrKeyUnconfigured = errors.New("auth: shared api key not configured")
)

// CheckSharedKey validates the Authorization header against the configured
// shared secret. The configured value may be plaintext or a bcrypt hash
// (recognized by its "$2" prefix). ErrKeyUnconfigured signals a deployment
// defect, not a client error.
func CheckSharedKey(authHeader, configured string) error {
	if strings.TrimSpace(configured) == "" {
		return ErrKeyUnconfigured
	}

	presented := strings.TrimSpace(authHeader)
	if after, ok := strings.CutPrefix(presented, "Bearer "); ok {
		presented = after
	} else if after, ok = strings.CutPrefix(presented, "bearer "); ok {
		presented = after
	}
	if presented == "" {
		return ErrKeyMissing
	}

	if strings.HasPrefix(configured, "$2") {
		if bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) != nil {
			return ErrKeyMismatch
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) != 1 {
		return ErrKeyMismatch
	}
	return nil
}
