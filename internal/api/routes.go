package api

import (
	"net/http"

	"github.com/voxelstream/server/internal/config"
	"github.com/voxelstream/server/internal/engine"
	"github.com/voxelstream/server/internal/materials"
	"github.com/voxelstream/server/internal/performance"
)

// Dependencies are the components the HTTP surface reads from.
type Dependencies struct {
	Config   *config.Config
	Engine   *engine.Engine
	Registry *materials.Registry
	Profiler *performance.Profiler
	Hub      *WebSocketHub
}

// SetupChunkRoutes registers the loaded-chunk inspection routes.
func SetupChunkRoutes(mux *http.ServeMux, e *engine.Engine) {
	handlers := NewChunkHandlers(e)
	mux.HandleFunc("GET /api/v1/chunks", handlers.ListChunks)
	mux.HandleFunc("GET /api/v1/chunks/{x}/{y}", handlers.GetChunk)
}

// SetupConfigRoutes registers health, configuration, material and stats
// routes.
func SetupConfigRoutes(mux *http.ServeMux, deps Dependencies) {
	handlers := NewConfigHandlers(deps.Config, deps.Engine, deps.Registry, deps.Profiler, deps.Hub)
	mux.HandleFunc("GET /health", handlers.Health)
	mux.HandleFunc("GET /api/v1/config", handlers.GetConfig)
	mux.HandleFunc("GET /api/v1/materials", handlers.ListMaterials)
	mux.HandleFunc("GET /api/v1/stats", handlers.GetStats)
}

// SetupWebSocketRoutes registers the event feed. Production servers only
// accept handshakes that carry an allowed Origin.
func SetupWebSocketRoutes(mux *http.ServeMux, hub *WebSocketHub, e *engine.Engine, server config.ServerConfig) {
	handlers := NewWebSocketHandlers(hub, e, server.AllowedOrigins, server.IsProduction())
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
}

// NewRouter builds the full HTTP handler: routes wrapped in per-IP rate
// limiting and CORS.
func NewRouter(deps Dependencies) http.Handler {
	mux := http.NewServeMux()
	SetupConfigRoutes(mux, deps)
	SetupChunkRoutes(mux, deps.Engine)
	if deps.Hub != nil {
		SetupWebSocketRoutes(mux, deps.Hub, deps.Engine, deps.Config.Server)
	}

	var handler http.Handler = mux
	handler = RateLimitMiddleware(deps.Config.Server.RateLimit, deps.Config.Server.RateLimitWindow)(handler)
	handler = CORSMiddleware(deps.Config.Server.AllowedOrigins)(handler)
	return handler
}
