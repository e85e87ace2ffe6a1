package checkout

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// IDGenerator builds merchant order identifiers of the form
// ORDER-<unix-millis>-<nnn>. The millisecond component never repeats within
// one generator, so rapid double submits cannot collide.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
	rnd  *rand.Rand
}

// NewIDGenerator returns a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next returns a fresh identifier.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.now == nil {
		g.now = time.Now
	}
	if g.rnd == nil {
		g.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return fmt.Sprintf("ORDER-%d-%03d", ms, g.rnd.Intn(1000))
}
