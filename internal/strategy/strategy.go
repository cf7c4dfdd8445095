// Package strategy defines the signal-generating strategy interface, the
// registry of available strategies, and the three built-in strategies.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// Context carries the mutable state a signal rule may consult. Strategies
// themselves hold no position state.
type Context struct {
	// Position is the open position in the signal's symbol, if any.
	Position *types.Position
}

// Strategy is a signal rule with a static suitability over regimes.
type Strategy interface {
	// Name returns the stable strategy identity.
	Name() string
	// GenerateSignal evaluates the rule over a chronological bar window.
	// It returns SideHold while any required indicator is in warm-up.
	GenerateSignal(bars []types.Bar, ctx Context) types.Side
	// WarmupBars returns the minimum window length for a real signal.
	WarmupBars() int
	// Suitability returns how well the strategy fits a regime, in [0,1].
	Suitability(regime types.Regime) float64
}

// Factory creates a strategy instance.
type Factory func() Strategy

// Registry manages the available strategies by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with the three built-in
// strategies registered under their default configurations.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TrendFollowingName, func() Strategy {
		return NewTrendFollowing(DefaultTrendFollowingConfig())
	})
	r.Register(MeanReversionName, func() Strategy {
		return NewMeanReversion(DefaultMeanReversionConfig())
	})
	r.Register(VolatilityBreakoutName, func() Strategy {
		return NewVolatilityBreakout(DefaultVolatilityBreakoutConfig())
	})
	return r
}

// Register adds a factory under the given name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Create instantiates the named strategy.
func (r *Registry) Create(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return f(), nil
}

// CreateAll instantiates every registered strategy in name order.
func (r *Registry) CreateAll() []Strategy {
	names := r.List()
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := r.Create(name)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
