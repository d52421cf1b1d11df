package harness

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Random is the source of every probabilistic decision in the harness. Implementations
// must be safe for concurrent use.
type Random interface {
	Float64() float64
	// IntN returns a uniform int in [0, n).
	IntN(n int) int
	Perm(n int) []int
}

// lockedRand serializes access to a *rand.Rand.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom returns a goroutine-safe Random seeded with seed.
func NewRandom(seed uint64) Random {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeededRandom returns a goroutine-safe Random seeded from the clock.
func NewTimeSeededRandom() Random {
	return NewRandom(uint64(time.Now().UnixNano()))
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}
