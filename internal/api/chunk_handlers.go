package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/voxelstream/server/internal/compression"
	"github.com/voxelstream/server/internal/engine"
	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/voxel"
)

// Chunk payload formats accepted by GetChunk.
const (
	ChunkFormatSummary = "summary"
	ChunkFormatVoxels  = "voxels"
	ChunkFormatZstd    = "zstd"
)

// ChunkHandlers serves read-only views of the loaded-chunk cache.
type ChunkHandlers struct {
	engine *engine.Engine
}

// NewChunkHandlers creates a new instance of ChunkHandlers.
func NewChunkHandlers(e *engine.Engine) *ChunkHandlers {
	return &ChunkHandlers{engine: e}
}

// ChunkListResponse is returned by GET /api/v1/chunks.
type ChunkListResponse struct {
	// Loaded is ordered from least to most recently inserted.
	Loaded   []gridmap.Coord `json:"loaded"`
	Pending  []gridmap.Coord `json:"pending"`
	Capacity int             `json:"capacity"`
}

// ChunkResponse is returned by GET /api/v1/chunks/{x}/{y}.
type ChunkResponse struct {
	Coord   gridmap.Coord                `json:"coord"`
	Format  string                       `json:"format"`
	Summary *voxel.Summary               `json:"summary,omitempty"`
	Chunk   *voxel.Chunk                 `json:"chunk,omitempty"`
	Payload *compression.CompressedChunk `json:"payload,omitempty"`
}

// ListChunks handles GET /api/v1/chunks.
func (h *ChunkHandlers) ListChunks(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.Cache().Keys()
	pending := h.engine.Pending()
	if loaded == nil {
		loaded = []gridmap.Coord{}
	}
	respondWithJSON(w, http.StatusOK, ChunkListResponse{
		Loaded:   loaded,
		Pending:  pending,
		Capacity: h.engine.Cache().Capacity(),
	})
}

// GetChunk handles GET /api/v1/chunks/{x}/{y}. The format query parameter
// selects a summary (default), the full voxel list, or a zstd payload.
// Lookups never change cache recency.
func (h *ChunkHandlers) GetChunk(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.ParseInt(r.PathValue("x"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid chunk x coordinate")
		return
	}
	y, err := strconv.ParseInt(r.PathValue("y"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid chunk y coordinate")
		return
	}
	coord := gridmap.Coord{X: x, Y: y}

	format := r.URL.Query().Get("format")
	switch format {
	case "":
		format = ChunkFormatSummary
	case ChunkFormatSummary, ChunkFormatVoxels, ChunkFormatZstd:
	default:
		respondWithError(w, http.StatusBadRequest, "Unsupported format (expected summary, voxels or zstd)")
		return
	}

	chunk, ok := h.engine.Cache().Peek(coord)
	if !ok {
		if h.engine.IsPending(coord) {
			respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
			return
		}
		respondWithError(w, http.StatusNotFound, "Chunk not loaded")
		return
	}

	resp := ChunkResponse{Coord: coord, Format: format}
	switch format {
	case ChunkFormatSummary:
		summary := chunk.Summarize()
		resp.Summary = &summary
	case ChunkFormatVoxels:
		resp.Chunk = chunk
	case ChunkFormatZstd:
		payload, err := compression.FormatChunk(chunk, h.engine.Seed())
		if err != nil {
			log.Printf("Error compressing chunk %s: %v", coord, err)
			respondWithError(w, http.StatusInternalServerError, "Failed to compress chunk")
			return
		}
		resp.Payload = payload
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// respondWithJSON writes payload as a JSON response.
func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondWithError sends an error response in JSON format.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
