package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/relayforge/bedrock-gateway/internal/auth"
	"github.com/relayforge/bedrock-gateway/internal/config"
)

const credentialsContextKey = "gateway.credentials"

// corsMiddleware allows all origins, methods and headers, matching the
// original deployment posture of the gateway.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware resolves the per-request credential pool according to the
// configured mode and stores it on the context.
//
// In credentials mode the bearer token itself carries pipe-separated AWS
// credential pairs and an unparsable token degrades to the process default.
// In shared-key mode the token is compared against the configured secret
// and backend calls always use the process-default credential.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := s.config()
		header := c.GetHeader("Authorization")

		switch cfg.AuthMode {
		case config.AuthModeSharedKey:
			if err := auth.CheckSharedKey(header, cfg.SharedKey); err != nil {
				switch err {
				case auth.ErrKeyMissing:
					respondError(c, http.StatusUnauthorized, "missing api key", "authentication_error")
				case auth.ErrKeyMismatch:
					respondError(c, http.StatusForbidden, "invalid api key", "permission_error")
				default:
					// A deployment defect, not a client problem.
					log.Error("api: shared-key auth enabled but no key configured")
					respondError(c, http.StatusInternalServerError, "api key auth not configured", "configuration_error")
				}
				c.Abort()
				return
			}
			c.Set(credentialsContextKey, []auth.CredentialSet{cfg.DefaultCredential()})
		default:
			c.Set(credentialsContextKey, auth.FromRequest(header, cfg.DefaultCredential()))
		}
		c.Next()
	}
}

// requestCredentials returns the credential pool stored by authMiddleware.
func requestCredentials(c *gin.Context, cfg *config.Config) []auth.CredentialSet {
	if v, ok := c.Get(credentialsContextKey); ok {
		if creds, okCast := v.([]auth.CredentialSet); okCast && len(creds) > 0 {
			return creds
		}
	}
	return []auth.CredentialSet{cfg.DefaultCredential()}
}
