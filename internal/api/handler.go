package api

import (
	"math/rand/v2"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayforge/bedrock-gateway/internal/dispatch"
	"github.com/relayforge/bedrock-gateway/internal/logging"
	"github.com/relayforge/bedrock-gateway/internal/relay"
	"github.com/relayforge/bedrock-gateway/internal/translator"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleListModels merges the backend's inference-profile and
// foundation-model listings into the OpenAI-compatible model list, trying
// each credential in randomized order until one succeeds.
func (s *Server) handleListModels(c *gin.Context) {
	cfg := s.config()
	catalog := s.catalogFor(cfg)

	region := c.Param("region")
	if region == "" {
		region = cfg.DefaultRegion
	}

	creds := requestCredentials(c, cfg)
	order := make([]int, len(creds))
	for i := range order {
		order[i] = i
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	entry := logging.EntryWithRequestID(c.Request.Context())
	var lastErr error
	for _, idx := range order {
		cred := creds[idx]
		entry.Infof("listing models using key %s in %s", cred.KeyTag(), region)
		models, err := catalog.ListModels(c.Request.Context(), cred, region)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"object": "list", "data": models})
			return
		}
		entry.Errorf("model listing with key %s failed: %v", cred.KeyTag(), err)
		lastErr = err
	}

	err := &dispatch.AllFailedError{Attempts: len(order), LastErr: lastErr}
	respondError(c, http.StatusInternalServerError, err.Error(), dispatch.Classify(err))
}

// handleChatCompletions serves the OpenAI-style surface. The promptCache
// variant marks the last message cacheable before dispatch.
func (s *Server) handleChatCompletions(promptCache bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.completeChat(c, translator.SurfaceChat, promptCache)
	}
}

// handleMessages serves the Anthropic-style surface, which always streams.
func (s *Server) handleMessages(promptCache bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.completeChat(c, translator.SurfaceMessages, promptCache)
	}
}

func (s *Server) completeChat(c *gin.Context, surface translator.Surface, promptCache bool) {
	cfg := s.config()
	body := logging.GetRequestBody(c)
	if len(body) == 0 {
		respondError(c, http.StatusBadRequest, "empty request body", "invalid_request_error")
		return
	}

	normalized, err := translator.Normalize(body, translator.Options{
		Surface:       surface,
		RouteRegion:   c.Param("region"),
		DefaultRegion: cfg.DefaultRegion,
		PromptCache:   promptCache,
	})
	if err != nil {
		respondDispatchError(c, err)
		return
	}

	dispatcher := dispatch.New(s.invokerFor(cfg))
	creds := requestCredentials(c, cfg)
	req := dispatch.Request{
		Payload: normalized.Payload,
		Model:   normalized.Model,
		Region:  normalized.Region,
	}

	if !normalized.Stream {
		payload, dispatchErr := dispatcher.Dispatch(c.Request.Context(), req, creds)
		if dispatchErr != nil {
			respondDispatchError(c, dispatchErr)
			return
		}
		c.Data(http.StatusOK, "application/json", payload)
		return
	}

	chunks, dispatchErr := dispatcher.DispatchStream(c.Request.Context(), req, creds)
	if dispatchErr != nil {
		// No stream handle was obtained, so the transport has not
		// committed yet and a proper error status is still possible.
		respondDispatchError(c, dispatchErr)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	relay.Relay(c.Request.Context(), c.Writer, c.Writer, chunks, relay.Options{
		DoneFrame: surface == translator.SurfaceChat,
	})
}
