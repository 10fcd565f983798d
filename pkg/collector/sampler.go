package collector

import (
	"math/rand"
	"sync"
)

// Sampler makes the per-point Bernoulli decision. It is safe for concurrent
// use; calls to the random source are serialized.
type Sampler struct {
	rate float64

	mu   sync.Mutex
	rand func() float64
}

// NewSampler keeps points with probability rate. rnd must return values in
// [0,1); nil uses math/rand.
func NewSampler(rate float64, rnd func() float64) *Sampler {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Sampler{rate: rate, rand: rnd}
}

// Sample reports whether the next point is kept
func (s *Sampler) Sample() bool {
	switch {
	case s.rate >= 1:
		return true
	case s.rate <= 0:
		return false
	}
	s.mu.Lock()
	r := s.rand()
	s.mu.Unlock()
	return r < s.rate
}

// Rate returns the sampling rate
func (s *Sampler) Rate() float64 {
	return s.rate
}
