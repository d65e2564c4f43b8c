// Package power holds the state machine that turns calibrated voltages,
// configured thresholds and injected events (button, host request,
// watchdog expiry) into warn/shutdown/restart decisions.
package power

import (
	"github.com/jbaumann/attiny-daemon/config"
	"github.com/jbaumann/attiny-daemon/sensor"
	"github.com/jbaumann/attiny-daemon/types"
)

const (
	// MinPowerLevel is the millivolt level at which the external rail
	// counts as "supply connected" after a reset.
	MinPowerLevel = 4700

	// DebounceTicks is how many consecutive ticks a transition's target
	// condition must hold before the transition is confirmed stable.
	DebounceTicks = 3
)

// Machine evaluates the transition rules once per tick. It is not
// internally locked; the firmware calls it from the tick path and reads
// it from the protocol path under the shared Guard.
type Machine struct {
	state      types.State
	causes     *Aggregator
	transTicks uint8
	injected   types.Cause
}

func NewMachine(persistCause func(types.Cause)) *Machine {
	return &Machine{
		state:  types.State{Stable: types.StableUnclear},
		causes: NewAggregator(persistCause),
	}
}

// State returns the current state (stable + in-flight transition).
func (m *Machine) State() types.State { return m.state }

// Causes returns the live episode cause mask.
func (m *Machine) Causes() types.Cause { return m.causes.Current() }

// Inject queues cause bits (button press, host request, watchdog expiry)
// that force a shutdown on the next tick regardless of voltage.
func (m *Machine) Inject(c types.Cause) { m.injected = m.injected.With(c) }

// evaluate applies the threshold rules to one pair of readings and
// returns the state the voltages argue for plus any cause bits observed.
// Implausible (saturated) readings never satisfy a condition: a single
// bad sample must not shut the host down.
func (m *Machine) evaluate(bat, ext int16, rec config.Record) (types.Stable, types.Cause) {
	batOK := sensor.Plausible(bat)
	extOK := sensor.Plausible(ext)

	switch {
	case batOK && int32(bat) < int32(rec.ShutdownVoltage):
		return types.StableShutdown, types.CauseBatVoltage

	case extOK && int32(ext) < MinPowerLevel:
		if rec.VextOffIsShutdown != 0 {
			return types.StableShutdown, types.CauseExtVoltage
		}
		return types.StableWarn, types.CauseExtVoltage

	case batOK && int32(bat) < int32(rec.WarnVoltage):
		return types.StableWarn, types.CauseNone

	case batOK && int32(bat) >= int32(rec.RestartVoltage):
		return types.StableRunning, types.CauseNone

	default:
		// Hysteresis band (or no trustworthy reading): hold.
		return m.state.Stable, types.CauseNone
	}
}

// Tick runs one evaluation and returns the action, if any, the pulse
// controller should take. Exactly one call per measurement tick.
func (m *Machine) Tick(bat, ext int16, rec config.Record) types.Decision {
	inj := m.injected
	m.injected = types.CauseNone

	target, cause := m.evaluate(bat, ext, rec)
	if inj != types.CauseNone {
		target = types.StableShutdown
		cause = cause.With(inj)
	}

	switch m.state.Stable {
	case types.StableUnclear:
		return m.leaveUnclear(target, cause)
	case types.StableRunning:
		return m.fromRunning(target, cause, inj)
	case types.StableWarn:
		return m.fromWarn(target, cause, inj)
	default:
		return m.fromShutdown(target, cause)
	}
}

// leaveUnclear commits to a real state on the first evaluation after
// reset. Unclear never survives a tick with a stable reading available.
func (m *Machine) leaveUnclear(target types.Stable, cause types.Cause) types.Decision {
	switch target {
	case types.StableShutdown:
		m.beginEpisode(cause)
		m.settle(types.StableShutdown)
		return types.DecideShutdown
	case types.StableWarn:
		m.beginEpisode(cause)
		m.settle(types.StableWarn)
		return types.DecideWarn
	default:
		m.settle(types.StableRunning)
		return types.DecideNone
	}
}

func (m *Machine) fromRunning(target types.Stable, cause types.Cause, inj types.Cause) types.Decision {
	switch target {
	case types.StableShutdown:
		m.beginEpisode(cause)
		m.settle(types.StableShutdown)
		return types.DecideShutdown
	case types.StableWarn:
		m.beginEpisode(cause)
		m.settle(types.StableWarn)
		return types.DecideWarn
	default:
		return types.DecideNone
	}
}

func (m *Machine) fromWarn(target types.Stable, cause types.Cause, inj types.Cause) types.Decision {
	m.causes.Record(cause)

	// A hard cause (battery under the shutdown threshold) keeps an
	// in-flight warn_to_shutdown going even if the reading momentarily
	// recovers.
	if m.state.Transition == types.TransitionWarnToShutdown &&
		m.causes.Current().Hard() {
		target = types.StableShutdown
	}

	switch target {
	case types.StableShutdown:
		if inj != types.CauseNone {
			// Button or host request: no debounce.
			m.settle(types.StableShutdown)
			return types.DecideShutdown
		}
		return m.debounce(types.TransitionWarnToShutdown, types.StableShutdown, types.DecideShutdown)

	case types.StableRunning:
		return m.debounceRecovery(types.TransitionWarnToRunning, types.DecideNone)

	default:
		// Still in warn territory: abandon any in-flight transition.
		m.settle(types.StableWarn)
		return types.DecideNone
	}
}

func (m *Machine) fromShutdown(target types.Stable, cause types.Cause) types.Decision {
	m.causes.Record(cause)

	if target == types.StableRunning {
		return m.debounceRecovery(types.TransitionShutdownToRunning, types.DecideRestart)
	}
	// Only a restart-level voltage leaves shutdown.
	m.settle(types.StableShutdown)
	return types.DecideNone
}

// debounce drives a transition toward dst, confirming it after
// DebounceTicks consecutive ticks.
func (m *Machine) debounce(tr types.Transition, dst types.Stable, confirm types.Decision) types.Decision {
	if m.state.Transition != tr {
		m.state.Transition = tr
		m.transTicks = 0
		return types.DecideNone
	}
	m.transTicks++
	if m.transTicks >= DebounceTicks {
		m.settle(dst)
		return confirm
	}
	return types.DecideNone
}

// debounceRecovery is debounce toward Running; on confirmation the
// episode ends and the cause mask clears.
func (m *Machine) debounceRecovery(tr types.Transition, confirm types.Decision) types.Decision {
	if m.state.Transition != tr {
		m.state.Transition = tr
		m.transTicks = 0
		return types.DecideNone
	}
	m.transTicks++
	if m.transTicks >= DebounceTicks {
		m.settle(types.StableRunning)
		m.causes.Clear()
		return confirm
	}
	return types.DecideNone
}

func (m *Machine) settle(s types.Stable) {
	m.state.Stable = s
	m.state.Transition = types.TransitionNone
	m.transTicks = 0
}

// beginEpisode clears the previous episode's live mask and records the
// first causes of the new one.
func (m *Machine) beginEpisode(cause types.Cause) {
	m.causes.Clear()
	m.causes.Record(cause)
}
