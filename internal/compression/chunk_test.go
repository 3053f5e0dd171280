package compression

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/voxelstream/server/internal/gridmap"
	"github.com/voxelstream/server/internal/procedural"
	"github.com/voxelstream/server/internal/voxel"
)

func generate(t *testing.T, seed uint64, coord gridmap.Coord, mc uint32) *voxel.Chunk {
	t.Helper()
	gen := voxel.NewGenerator(procedural.SimplexFBM{Params: procedural.DefaultFBMParams()}, nil)
	chunk, err := gen.Generate(context.Background(), seed, coord, 10, mc)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return chunk
}

func assertSameChunk(t *testing.T, want, got *voxel.Chunk) {
	t.Helper()
	if got.Coord != want.Coord || got.Position != want.Position || got.Size != want.Size {
		t.Fatalf("chunk metadata mismatch: got %v/%v/%d want %v/%v/%d",
			got.Coord, got.Position, got.Size, want.Coord, want.Position, want.Size)
	}
	if len(got.Voxels) != len(want.Voxels) {
		t.Fatalf("voxel count mismatch: got %d want %d", len(got.Voxels), len(want.Voxels))
	}
	for i := range want.Voxels {
		if got.Voxels[i] != want.Voxels[i] {
			t.Fatalf("voxel %d mismatch: got %+v want %+v", i, got.Voxels[i], want.Voxels[i])
		}
	}
}

func TestCompressChunkRestoresVoxels(t *testing.T) {
	chunk := generate(t, 55, gridmap.Coord{X: -4, Y: 12}, 10)

	compressed, rawSize, err := CompressChunk(chunk, 55)
	if err != nil {
		t.Fatalf("CompressChunk failed: %v", err)
	}
	if len(compressed) == 0 || rawSize == 0 {
		t.Fatal("compressed data is empty")
	}
	if len(compressed) >= rawSize {
		t.Logf("compression did not shrink payload: %d >= %d", len(compressed), rawSize)
	}

	decoded, seed, err := DecompressChunk(compressed)
	if err != nil {
		t.Fatalf("DecompressChunk failed: %v", err)
	}
	if seed != 55 {
		t.Fatalf("expected seed 55, got %d", seed)
	}
	assertSameChunk(t, chunk, decoded)
}

func TestMaterialWidths(t *testing.T) {
	tests := []struct {
		name     string
		material uint32
		flag     uint8
	}{
		{name: "8-bit", material: 200, flag: flagMaterial8},
		{name: "16-bit", material: 300, flag: flagMaterial16},
		{name: "32-bit", material: 70000, flag: flagMaterial32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk := &voxel.Chunk{
				Coord:    gridmap.Coord{X: 1, Y: 1},
				Position: mgl32.Vec3{4, 0, 4},
				Size:     4,
				Voxels: []voxel.Voxel{
					{Position: mgl32.Vec3{4, 0, 4}, Material: 0},
					{Position: mgl32.Vec3{7, 3, 5}, Material: tt.material},
				},
			}
			raw, err := EncodeChunk(chunk, 9)
			if err != nil {
				t.Fatalf("EncodeChunk failed: %v", err)
			}

			var header ChunkHeader
			if _, err := binary.Decode(raw, binary.LittleEndian, &header); err != nil {
				t.Fatalf("failed to decode header: %v", err)
			}
			if header.FormatFlags&flagMaterialMask != tt.flag {
				t.Fatalf("expected flag %d, got %d", tt.flag, header.FormatFlags)
			}

			decoded, _, err := DecodeChunk(raw)
			if err != nil {
				t.Fatalf("DecodeChunk failed: %v", err)
			}
			if decoded.Voxels[1].Material != tt.material {
				t.Fatalf("expected material %d, got %d", tt.material, decoded.Voxels[1].Material)
			}
			if decoded.Voxels[1].Position != (mgl32.Vec3{7, 3, 5}) {
				t.Fatalf("unexpected position %v", decoded.Voxels[1].Position)
			}
		})
	}
}

func TestEncodeChunkErrors(t *testing.T) {
	if _, err := EncodeChunk(nil, 0); err == nil {
		t.Fatal("expected error for nil chunk")
	}
	if _, err := EncodeChunk(&voxel.Chunk{Size: MaxChunkSize + 1}, 0); err == nil {
		t.Fatal("expected error for oversized chunk")
	}
	outside := &voxel.Chunk{
		Size:   2,
		Voxels: []voxel.Voxel{{Position: mgl32.Vec3{5, 0, 0}}},
	}
	if _, err := EncodeChunk(outside, 0); err == nil {
		t.Fatal("expected error for voxel outside the chunk")
	}
}

func TestDecodeChunkRejectsCorruptData(t *testing.T) {
	raw, err := EncodeChunk(generate(t, 1, gridmap.Coord{}, 4), 1)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	badMagic := append([]byte(nil), raw...)
	copy(badMagic, "NOPE")
	if _, _, err := DecodeChunk(badMagic); err == nil {
		t.Error("expected error for bad magic")
	}

	badVersion := append([]byte(nil), raw...)
	badVersion[4] = 99
	if _, _, err := DecodeChunk(badVersion); err == nil {
		t.Error("expected error for unknown version")
	}

	if _, _, err := DecodeChunk(raw[:len(raw)-1]); err == nil {
		t.Error("expected error for truncated voxel data")
	}
	if _, _, err := DecodeChunk(raw[:10]); err == nil {
		t.Error("expected error for truncated header")
	}
	if _, _, err := DecompressChunk([]byte("not zstd")); err == nil {
		t.Error("expected error for invalid zstd data")
	}
}

func TestFormatChunk(t *testing.T) {
	chunk := generate(t, 7, gridmap.Coord{X: 3, Y: -3}, 6)

	formatted, err := FormatChunk(chunk, 7)
	if err != nil {
		t.Fatalf("FormatChunk failed: %v", err)
	}
	if formatted.Format != FormatBinaryZstd || formatted.Size == 0 || formatted.Data == "" {
		t.Fatalf("unexpected formatted chunk %+v", formatted)
	}

	parsed, seed, err := ParseChunk(formatted)
	if err != nil {
		t.Fatalf("ParseChunk failed: %v", err)
	}
	if seed != 7 {
		t.Fatalf("expected seed 7, got %d", seed)
	}
	assertSameChunk(t, chunk, parsed)

	if _, _, err := ParseChunk(&CompressedChunk{Format: "binary_gzip"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if formatted.Size > formatted.UncompressedSize {
		t.Fatalf("compressed payload %d larger than raw encoding %d", formatted.Size, formatted.UncompressedSize)
	}
}

func TestEmptyChunk(t *testing.T) {
	chunk := &voxel.Chunk{Coord: gridmap.Coord{X: 2}, Position: mgl32.Vec3{0, 0, 0}, Size: 0}
	compressed, _, err := CompressChunk(chunk, 1)
	if err != nil {
		t.Fatalf("CompressChunk failed: %v", err)
	}
	decoded, _, err := DecompressChunk(compressed)
	if err != nil {
		t.Fatalf("DecompressChunk failed: %v", err)
	}
	if decoded.Len() != 0 || decoded.Coord != chunk.Coord {
		t.Fatalf("unexpected decoded chunk %+v", decoded)
	}
}
