// Package valuation implements the stochastic value model shared by the
// projection preview and the settlement scheduler: per-risk volatility bands,
// a bounded random walk with drift, shock events, and currency rounding.
package valuation

import (
	"math/rand/v2"
	"sync"
)

// Source produces uniform deviates in [0, 1). Every random draw in the model
// goes through a Source so callers can make runs reproducible.
type Source interface {
	Float64() float64
}

// entropySource draws from the runtime's cryptographically seeded generator.
type entropySource struct{}

func (entropySource) Float64() float64 { return rand.Float64() }

// NewEntropySource returns the production Source. It is safe for concurrent
// use.
func NewEntropySource() Source {
	return entropySource{}
}

// SeededSource is a reproducible PCG-backed Source. It is safe for
// concurrent use, but the interleaving of draws across goroutines is not
// deterministic; give each goroutine its own SeededSource when the order
// matters.
type SeededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource creates a SeededSource from a 64-bit seed.
func NewSeededSource(seed uint64) *SeededSource {
	return &SeededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 implements Source.
func (s *SeededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Uint64 returns the next raw value; used to derive child seeds.
func (s *SeededSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Uint64()
}

// FixedSource returns the same deviate on every draw.
type FixedSource float64

// Float64 implements Source.
func (f FixedSource) Float64() float64 { return float64(f) }

// Midpoint is the deviate that yields a zero perturbation and a zero shock.
const Midpoint = FixedSource(0.5)

// SequenceSource replays a fixed list of deviates, wrapping around at the end.
type SequenceSource struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequenceSource creates a SequenceSource. It panics on an empty list.
func NewSequenceSource(values ...float64) *SequenceSource {
	if len(values) == 0 {
		panic("valuation: empty sequence source")
	}
	return &SequenceSource{values: values}
}

// Float64 implements Source.
func (s *SequenceSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}
