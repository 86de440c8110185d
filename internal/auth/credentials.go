// Package auth handles credential extraction for the gateway.
// It parses bearer tokens carrying one or more pipe-separated AWS credential
// pairs and validates shared-secret API keys, depending on the configured
// authentication mode.
package auth

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// CredentialSet is one AWS access key pair used for a single backend attempt.
// Immutable once parsed; a nil-field set simply fails at the backend.
type CredentialSet struct {
	AccessKeyID     string
	SecretAccessKey string
}

// KeyTag returns a short, loggable identifier for the credential.
// Secrets are never logged.
func (c CredentialSet) KeyTag() string {
	if len(c.AccessKeyID) <= 5 {
		return c.AccessKeyID
	}
	return c.AccessKeyID[:5] + "..."
}

// ParseToken splits a bearer token into an ordered list of credential sets.
//
// The token grammar is "id@secret" pairs separated by "|". Malformed pairs
// in a multi-pair token are dropped; if every pair is malformed (or the
// token is empty) the process-default credential is returned instead. The
// result is never empty and is NOT shuffled here: randomizing the attempt
// order is the dispatcher's job.
func ParseToken(token string, fallback CredentialSet) []CredentialSet {
	token = strings.TrimSpace(token)
	if token == "" {
		return []CredentialSet{fallback}
	}

	pairs := strings.Split(token, "|")
	creds := make([]CredentialSet, 0, len(pairs))
	for _, pair := range pairs {
		cred, ok := parsePair(pair)
		if !ok {
			if len(pairs) > 1 {
				log.Debugf("auth: dropping malformed credential pair in multi-pair token")
			}
			continue
		}
		creds = append(creds, cred)
	}

	if len(creds) == 0 {
		return []CredentialSet{fallback}
	}
	return creds
}

// FromRequest extracts credential sets from an Authorization header value.
func FromRequest(authHeader string, fallback CredentialSet) []CredentialSet {
	token := strings.TrimSpace(authHeader)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = after
	} else if after, ok = strings.CutPrefix(token, "bearer "); ok {
		token = after
	}
	return ParseToken(token, fallback)
}

func parsePair(pair string) (CredentialSet, bool) {
	// Only a missing separator disqualifies a pair; empty halves are kept
	// and left to fail at the backend.
	id, secret, found := strings.Cut(pair, "@")
	if !found {
		return CredentialSet{}, false
	}
	return CredentialSet{AccessKeyID: id, SecretAccessKey: secret}, true
}
