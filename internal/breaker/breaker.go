// Package breaker wraps per-key circuit breakers (one per feed URL, one per
// notification target host) around outbound calls, so a consistently
// failing remote stops being dialed on every item draining through a
// pipeline stage. It does not retry anything; a tripped breaker simply
// rejects calls for its key until its cooldown window elapses.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Manager lazily creates and caches a gobreaker.CircuitBreaker per key.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	maxFailures uint32
	cooldown    time.Duration
}

// NewManager builds a Manager whose breakers trip after maxFailures
// consecutive failures and stay open for cooldown before allowing a single
// trial request through.
func NewManager(maxFailures uint32, cooldown time.Duration) *Manager {
	return &Manager{
		breakers:    make(map[string]*gobreaker.CircuitBreaker),
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

func (m *Manager) getOrCreate(key string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    key,
		Timeout: m.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.maxFailures
		},
	})
	m.breakers[key] = b
	return b
}

// Do runs fn through the breaker registered for key.
func (m *Manager) Do(key string, fn func() error) error {
	_, err := m.getOrCreate(key).Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State reports the named breaker's current state, for health/metrics
// reporting. Returns "closed" for a key that has never been used.
func (m *Manager) State(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[key]
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return b.State().String()
}

// StateValue reports the named breaker's current state as gobreaker's own
// numeric encoding (0=closed, 1=half-open, 2=open), for gauge metrics.
func (m *Manager) StateValue(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[key]
	if !ok {
		return float64(gobreaker.StateClosed)
	}
	return float64(b.State())
}
