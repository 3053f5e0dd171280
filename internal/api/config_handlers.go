package api

import (
	"net/http"

	"github.com/voxelstream/server/internal/config"
	"github.com/voxelstream/server/internal/engine"
	"github.com/voxelstream/server/internal/materials"
	"github.com/voxelstream/server/internal/performance"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "voxelstream-server"

// ConfigHandlers serves configuration, material and runtime status.
type ConfigHandlers struct {
	config   *config.Config
	engine   *engine.Engine
	registry *materials.Registry
	profiler *performance.Profiler
	hub      *WebSocketHub
}

// NewConfigHandlers creates a new instance of ConfigHandlers. profiler and
// hub may be nil.
func NewConfigHandlers(cfg *config.Config, e *engine.Engine, registry *materials.Registry, profiler *performance.Profiler, hub *WebSocketHub) *ConfigHandlers {
	return &ConfigHandlers{
		config:   cfg,
		engine:   e,
		registry: registry,
		profiler: profiler,
		hub:      hub,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	MaterialsReady bool   `json:"materials_ready"`
	LoadedChunks   int    `json:"loaded_chunks"`
}

// ConfigResponse is returned by GET /api/v1/config.
type ConfigResponse struct {
	Engine    config.EngineConfig    `json:"engine"`
	Terrain   config.TerrainConfig   `json:"terrain"`
	Materials config.MaterialsConfig `json:"materials"`
}

// MaterialResponse is a material with its quantized render parameters.
type MaterialResponse struct {
	materials.Material
	BaseColor         materials.HSL `json:"base_color"`
	EmissiveColor     materials.HSL `json:"emissive_color"`
	MetallicFactor    float32       `json:"metallic_factor"`
	RoughnessFactor   float32       `json:"roughness_factor"`
	ReflectanceFactor float32       `json:"reflectance_factor"`
}

// StatsResponse is returned by GET /api/v1/stats.
type StatsResponse struct {
	Engine    engine.Stats            `json:"engine"`
	Profiler  *performance.ReportJSON `json:"profiler,omitempty"`
	Clients   int                     `json:"websocket_clients"`
	Materials int                     `json:"materials"`
}

// Health handles GET /health.
func (h *ConfigHandlers) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Service:        ServiceName,
		MaterialsReady: h.registry.IsReady(),
		LoadedChunks:   h.engine.Cache().Len(),
	})
}

// GetConfig handles GET /api/v1/config. Only engine-facing sections are
// exposed.
func (h *ConfigHandlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	engineCfg := h.config.Engine
	engineCfg.Seed = h.engine.Seed()
	respondWithJSON(w, http.StatusOK, ConfigResponse{
		Engine:    engineCfg,
		Terrain:   h.config.Terrain,
		Materials: h.config.Materials,
	})
}

// ListMaterials handles GET /api/v1/materials. It answers 503 until the
// material table has been loaded.
func (h *ConfigHandlers) ListMaterials(w http.ResponseWriter, r *http.Request) {
	if !h.registry.IsReady() {
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusServiceUnavailable, materials.ErrNotReady.Error())
		return
	}

	all := h.registry.All()
	out := make([]MaterialResponse, 0, len(all))
	for _, m := range all {
		out = append(out, MaterialResponse{
			Material:          m,
			BaseColor:         m.BaseColor(),
			EmissiveColor:     m.EmissiveColor(),
			MetallicFactor:    m.MetallicFactor(),
			RoughnessFactor:   m.RoughnessFactor(),
			ReflectanceFactor: m.ReflectanceFactor(),
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	respondWithJSON(w, http.StatusOK, map[string]any{"materials": out})
}

// GetStats handles GET /api/v1/stats.
func (h *ConfigHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Engine: h.engine.Stats()}
	if h.profiler != nil {
		snapshot := h.profiler.Snapshot()
		resp.Profiler = &snapshot
	}
	if h.hub != nil {
		resp.Clients = h.hub.ClientCount()
	}
	if n, err := h.registry.Count(); err == nil {
		resp.Materials = int(n)
	}
	respondWithJSON(w, http.StatusOK, resp)
}
