// Package noise provides the deterministic integer hash used for all procedural content.
// Every function is pure: output depends only on the arguments, bit-for-bit on any platform.
package noise

import "math"

const (
	bitNoise1 uint64 = 0xB5297A4D
	bitNoise2 uint64 = 0x68E31DA4
	bitNoise3 uint64 = 0x1B56C4E9

	// PrimeY and PrimeZ fold extra dimensions into a single position before hashing.
	PrimeY uint64 = 14536142487739796659
	PrimeZ uint64 = 17330241684369242527
)

// Hash mixes a position with a seed (squirrel3). Arithmetic wraps at 64 bits.
func Hash(position, seed uint64) uint64 {
	mangled := position
	mangled *= bitNoise1
	mangled += seed
	mangled ^= mangled >> 8
	mangled += bitNoise2
	mangled ^= mangled << 8
	mangled *= bitNoise3
	mangled ^= mangled >> 8
	return mangled
}

// Hash2D hashes a 2D lattice point.
func Hash2D(x, y, seed uint64) uint64 {
	return Hash(x+y*PrimeY, seed)
}

// Hash3D hashes a 3D lattice point.
func Hash3D(x, y, z, seed uint64) uint64 {
	return Hash(x+y*PrimeY+z*PrimeZ, seed)
}

// Hash2DInt hashes signed coordinates using their two's complement bits,
// so negative chunk coordinates stay distinct from positive ones.
func Hash2DInt(x, y int64, seed uint64) uint64 {
	return Hash2D(uint64(x), uint64(y), seed)
}

// Float1D returns Hash normalized to [0, 1].
func Float1D(position, seed uint64) float64 {
	return normalize(Hash(position, seed))
}

// Float2D returns Hash2D normalized to [0, 1].
func Float2D(x, y, seed uint64) float64 {
	return normalize(Hash2D(x, y, seed))
}

// Float3D returns Hash3D normalized to [0, 1].
func Float3D(x, y, z, seed uint64) float64 {
	return normalize(Hash3D(x, y, z, seed))
}

// FloatAt hashes a float position after truncating it toward zero.
func FloatAt(x float64, seed uint64) float64 {
	return normalize(Hash(uint64(int64(x)), seed))
}

// normalize maps a hash onto [0, 1]. float64 cannot represent MaxUint64 exactly,
// so the largest hashes round up to exactly 1.
func normalize(h uint64) float64 {
	return float64(h) / float64(math.MaxUint64)
}
