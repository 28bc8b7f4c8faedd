package integrator

import (
	"math/rand/v2"

	"github.com/achilleasa/lumen/types"
)

// A RandomSource fills per-pixel random pairs in [0, 1).
type RandomSource interface {
	Fill(dst []types.Vec2)
}

type pcgSource struct {
	rng *rand.Rand
}

// Create a deterministic random source seeded with seed.
func NewPCGSource(seed uint64) RandomSource {
	return &pcgSource{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *pcgSource) Fill(dst []types.Vec2) {
	for i := range dst {
		dst[i] = types.Vec2{s.rng.Float32(), s.rng.Float32()}
	}
}
