package power

import "github.com/jbaumann/attiny-daemon/types"

// Aggregator accumulates the cause bits observed during the current
// shutdown episode. The mask is cleared at episode boundaries; every
// change is pushed through the persist hook so the last episode's causes
// survive a power cycle and can be queried by the host after the fact.
type Aggregator struct {
	mask    types.Cause
	persist func(types.Cause)
}

func NewAggregator(persist func(types.Cause)) *Aggregator {
	if persist == nil {
		persist = func(types.Cause) {}
	}
	return &Aggregator{persist: persist}
}

// Record ORs new cause bits into the episode mask. The union is never
// thinned out by a later tick that no longer observes a cause.
func (a *Aggregator) Record(c types.Cause) {
	if a.mask.With(c) == a.mask {
		return
	}
	a.mask = a.mask.With(c)
	a.persist(a.mask)
}

// Clear resets the live mask at an episode boundary. The persisted copy
// keeps the previous episode's value.
func (a *Aggregator) Clear() { a.mask = types.CauseNone }

// Current returns the live mask; this is what the should_shutdown
// register reports.
func (a *Aggregator) Current() types.Cause { return a.mask }
