package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"

	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/noise"
	"github.com/voxelstream/server/internal/voxel"
)

const (
	// Magic number for the voxel chunk format
	ChunkMagic = "VOXC"
	// Current format version
	ChunkVersion = 1
	// MaxChunkSize is the largest edge length whose local coordinates fit a byte.
	MaxChunkSize = 256
)

// Material width flags (bits 0-1 of FormatFlags).
const (
	flagMaterial8  uint8 = 0x00
	flagMaterial16 uint8 = 0x01
	flagMaterial32 uint8 = 0x02
	flagMaterialMask     = 0x03
)

// ChunkHeader is the fixed-size binary header.
type ChunkHeader struct {
	Magic       [4]byte // "VOXC"
	Version     uint8
	FormatFlags uint8
	Size        uint16
	CoordX      int64
	CoordY      int64
	Seed        uint64
	VoxelCount  uint32
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func sharedEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder, encoderErr
}

func sharedDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

// EncodeChunk serializes a chunk to the raw binary format. Voxel positions
// are stored as local byte offsets and ids are omitted: both are recomputed
// from the header on decode.
func EncodeChunk(chunk *voxel.Chunk, seed uint64) ([]byte, error) {
	if chunk == nil {
		return nil, fmt.Errorf("chunk is nil")
	}
	if chunk.Size < 0 || chunk.Size > MaxChunkSize {
		return nil, fmt.Errorf("chunk size %d outside encodable range [0, %d]", chunk.Size, MaxChunkSize)
	}

	var maxMaterial uint32
	for _, v := range chunk.Voxels {
		if v.Material > maxMaterial {
			maxMaterial = v.Material
		}
	}

	header := ChunkHeader{
		Version:    ChunkVersion,
		Size:       uint16(chunk.Size),
		CoordX:     chunk.Coord.X,
		CoordY:     chunk.Coord.Y,
		Seed:       seed,
		VoxelCount: uint32(len(chunk.Voxels)),
	}
	copy(header.Magic[:], ChunkMagic)
	switch {
	case maxMaterial > 0xFFFF:
		header.FormatFlags |= flagMaterial32
	case maxMaterial > 0xFF:
		header.FormatFlags |= flagMaterial16
	default:
		header.FormatFlags |= flagMaterial8
	}

	var buf bytes.Buffer
	buf.Grow(binary.Size(header) + len(chunk.Voxels)*4)
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, v := range chunk.Voxels {
		local := v.Position.Sub(chunk.Position)
		x, y, z := int(local.X()), int(local.Y()), int(local.Z())
		if x < 0 || y < 0 || z < 0 || x >= chunk.Size || y >= chunk.Size || z >= chunk.Size {
			return nil, fmt.Errorf("voxel %d at %v lies outside the chunk", i, v.Position)
		}
		buf.WriteByte(byte(x))
		buf.WriteByte(byte(y))
		buf.WriteByte(byte(z))

		switch header.FormatFlags & flagMaterialMask {
		case flagMaterial32:
			_ = binary.Write(&buf, binary.LittleEndian, v.Material)
		case flagMaterial16:
			_ = binary.Write(&buf, binary.LittleEndian, uint16(v.Material))
		default:
			buf.WriteByte(byte(v.Material))
		}
	}

	return buf.Bytes(), nil
}

// DecodeChunk parses the raw binary format back into a chunk.
func DecodeChunk(data []byte) (*voxel.Chunk, uint64, error) {
	r := bytes.NewReader(data)

	var header ChunkHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.Magic[:]) != ChunkMagic {
		return nil, 0, fmt.Errorf("invalid magic %q", string(header.Magic[:]))
	}
	if header.Version != ChunkVersion {
		return nil, 0, fmt.Errorf("unsupported chunk format version %d", header.Version)
	}

	size := int(header.Size)
	coord := gridmap.Coord{X: header.CoordX, Y: header.CoordY}
	origin := gridmap.Origin(coord, size)
	n := uint64(size)

	materialWidth := 1
	switch header.FormatFlags & flagMaterialMask {
	case flagMaterial16:
		materialWidth = 2
	case flagMaterial32:
		materialWidth = 4
	}
	if want := int(header.VoxelCount) * (3 + materialWidth); r.Len() != want {
		return nil, 0, fmt.Errorf("voxel data length mismatch: got %d bytes want %d", r.Len(), want)
	}

	chunk := &voxel.Chunk{
		Coord:    coord,
		Position: origin,
		Size:     size,
		Voxels:   make([]voxel.Voxel, header.VoxelCount),
	}

	var pos [3]byte
	for i := range chunk.Voxels {
		if _, err := r.Read(pos[:]); err != nil {
			return nil, 0, fmt.Errorf("failed to read voxel %d: %w", i, err)
		}
		var material uint32
		switch materialWidth {
		case 4:
			if err := binary.Read(r, binary.LittleEndian, &material); err != nil {
				return nil, 0, fmt.Errorf("failed to read voxel %d material: %w", i, err)
			}
		case 2:
			var m uint16
			if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
				return nil, 0, fmt.Errorf("failed to read voxel %d material: %w", i, err)
			}
			material = uint32(m)
		default:
			b, err := r.ReadByte()
			if err != nil {
				return nil, 0, fmt.Errorf("failed to read voxel %d material: %w", i, err)
			}
			material = uint32(b)
		}

		x, y, z := uint64(pos[0]), uint64(pos[1]), uint64(pos[2])
		chunk.Voxels[i] = voxel.Voxel{
			Position: origin.Add(mgl32.Vec3{float32(x), float32(y), float32(z)}),
			ID:       noise.Hash(x+y*n+z*n*n, header.Seed),
			Material: material,
		}
	}

	return chunk, header.Seed, nil
}

// CompressChunk encodes and zstd-compresses a chunk.
func CompressChunk(chunk *voxel.Chunk, seed uint64) (compressed []byte, rawSize int, err error) {
	raw, err := EncodeChunk(chunk, seed)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode chunk: %w", err)
	}
	enc, err := sharedEncoder()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return enc.EncodeAll(raw, nil), len(raw), nil
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(data []byte) (*voxel.Chunk, uint64, error) {
	dec, err := sharedDecoder()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decompress chunk: %w", err)
	}
	return DecodeChunk(raw)
}
