// Package api exposes the gateway's HTTP surface: health, model listing and
// the two chat surfaces (OpenAI-style chat completions and Anthropic-style
// messages), each with plain, region-prefixed and prompt-cache route
// variants.
package api

import (
	"context"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/relayforge/bedrock-gateway/internal/auth"
	"github.com/relayforge/bedrock-gateway/internal/backend"
	"github.com/relayforge/bedrock-gateway/internal/config"
	"github.com/relayforge/bedrock-gateway/internal/dispatch"
	"github.com/relayforge/bedrock-gateway/internal/logging"
)

// CatalogLister is the model-catalog collaborator.
type CatalogLister interface {
	ListModels(ctx context.Context, cred auth.CredentialSet, region string) ([]backend.ModelEntry, error)
}

// Server holds the handler dependencies. The active configuration sits
// behind an atomic pointer: the watcher swaps it on hot reload and each
// request reads one immutable snapshot.
type Server struct {
	current atomic.Pointer[config.Config]

	// Collaborator factories, overridable in tests. Constructed per request
	// from the config snapshot; the underlying HTTP transports are cached.
	invokerFor func(cfg *config.Config) dispatch.Invoker
	catalogFor func(cfg *config.Config) CatalogLister
}

// NewServer creates a Server wired to the real backend clients.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		invokerFor: func(cfg *config.Config) dispatch.Invoker {
			return backend.NewClient(cfg.RuntimeEndpoint, cfg.ProxyURL, nil)
		},
		catalogFor: func(cfg *config.Config) CatalogLister {
			return backend.NewCatalogClient(cfg.ControlEndpoint, cfg.ProxyURL, nil)
		},
	}
	s.current.Store(cfg)
	return s
}

// ApplyConfig swaps in a new configuration snapshot. In-flight requests
// keep the snapshot they started with.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.current.Store(cfg)
}

func (s *Server) config() *config.Config {
	return s.current.Load()
}

// Engine builds the gin engine with all routes and middleware registered.
func (s *Server) Engine() *gin.Engine {
	cfg := s.config()
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(logging.GinLogrusLogger())
	engine.Use(corsMiddleware())

	engine.GET("/", s.handleHealth)

	authorized := engine.Group("/", s.authMiddleware())
	authorized.GET("/v1/models", s.handleListModels)
	authorized.POST("/v1/chat/completions", s.handleChatCompletions(false))
	authorized.POST("/v1/messages", s.handleMessages(false))

	region := authorized.Group("/:region")
	region.GET("/v1/models", s.handleListModels)
	region.POST("/v1/chat/completions", s.handleChatCompletions(false))
	region.POST("/v1/messages", s.handleMessages(false))

	// The epc variants share the URL namespace of the prompt-cache chat
	// route; the models listing under epc is semantically identical.
	epc := region.Group("/epc")
	epc.GET("/v1/models", s.handleListModels)
	epc.POST("/v1/chat/completions", s.handleChatCompletions(true))
	epc.POST("/v1/messages", s.handleMessages(true))

	return engine
}
