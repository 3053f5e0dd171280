package compression

import (
	"encoding/base64"
	"fmt"

	"github.com/voxelstream/server/internal/voxel"
)

// FormatBinaryZstd names the payload encoding for clients.
const FormatBinaryZstd = "binary_zstd"

// CompressedChunk is a compressed chunk ready for JSON transmission.
type CompressedChunk struct {
	Format           string `json:"format"`            // "binary_zstd"
	Data             string `json:"data"`              // Base64-encoded compressed data
	Size             int    `json:"size"`              // Compressed size in bytes
	UncompressedSize int    `json:"uncompressed_size"` // Raw binary size in bytes
}

// FormatChunk compresses chunk and wraps it for JSON transmission.
func FormatChunk(chunk *voxel.Chunk, seed uint64) (*CompressedChunk, error) {
	compressed, rawSize, err := CompressChunk(chunk, seed)
	if err != nil {
		return nil, err
	}
	return &CompressedChunk{
		Format:           FormatBinaryZstd,
		Data:             base64.StdEncoding.EncodeToString(compressed),
		Size:             len(compressed),
		UncompressedSize: rawSize,
	}, nil
}

// ParseChunk decodes a CompressedChunk back into a chunk and its seed.
func ParseChunk(c *CompressedChunk) (*voxel.Chunk, uint64, error) {
	if c == nil {
		return nil, 0, fmt.Errorf("compressed chunk is nil")
	}
	if c.Format != FormatBinaryZstd {
		return nil, 0, fmt.Errorf("unsupported chunk format %q", c.Format)
	}
	data, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode base64: %w", err)
	}
	return DecompressChunk(data)
}
