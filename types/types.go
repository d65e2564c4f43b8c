// Package types holds the vocabulary shared between the UPS firmware core
// and its host-side tooling: power states, shutdown causes, configuration
// flags and the firmware version constants.
package types

// Firmware version. The host daemon refuses to talk to a firmware whose
// major number differs from its own.
const (
	VersionMajor = 2
	VersionMinor = 13
	VersionPatch = 7
)

// VersionWord packs the version for the version register.
func VersionWord() uint32 {
	return uint32(VersionMajor)<<16 | uint32(VersionMinor)<<8 | uint32(VersionPatch)
}

// ------------------------
// Power state
// ------------------------

// Stable is one of the four quiescent power states.
type Stable uint8

const (
	StableUnclear Stable = iota // just reset, actual condition unknown
	StableRunning
	StableWarn
	StableShutdown
)

func (s Stable) String() string {
	switch s {
	case StableUnclear:
		return "unclear"
	case StableRunning:
		return "running"
	case StableWarn:
		return "warn"
	case StableShutdown:
		return "shutdown"
	default:
		return "invalid"
	}
}

// Transition is an in-flight direction overlaid on a stable state while a
// debounce window runs. TransitionNone means the state is settled.
type Transition uint8

const (
	TransitionNone Transition = iota
	TransitionWarnToRunning
	TransitionShutdownToRunning
	TransitionWarnToShutdown
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionWarnToRunning:
		return "warn_to_running"
	case TransitionShutdownToRunning:
		return "shutdown_to_running"
	case TransitionWarnToShutdown:
		return "warn_to_shutdown"
	default:
		return "invalid"
	}
}

// State is the power state as a tagged variant: exactly one stable state,
// plus an optional transition currently being debounced. The wire encoding
// of the internal_state register is produced by Bits.
type State struct {
	Stable     Stable
	Transition Transition
}

// Wire bits of the internal_state register. Running is the zero value;
// transitional bits appear together with the stable bit they accompany.
const (
	bitUnclear           = 1 << 0
	bitWarnToRunning     = 1 << 1
	bitShutdownToRunning = 1 << 2
	bitWarn              = 1 << 3
	bitWarnToShutdown    = 1 << 4
	bitShutdown          = 1 << 5
)

// Bits encodes the state for the internal_state register.
func (s State) Bits() uint8 {
	var b uint8
	switch s.Stable {
	case StableUnclear:
		b = bitUnclear
	case StableWarn:
		b = bitWarn
	case StableShutdown:
		b = bitShutdown
	}
	switch s.Transition {
	case TransitionWarnToRunning:
		b |= bitWarnToRunning
	case TransitionShutdownToRunning:
		b |= bitShutdownToRunning
	case TransitionWarnToShutdown:
		b |= bitWarnToShutdown
	}
	return b
}

// Settled reports whether no transition is being debounced.
func (s State) Settled() bool { return s.Transition == TransitionNone }

func (s State) String() string {
	if s.Settled() {
		return s.Stable.String()
	}
	return s.Stable.String() + "+" + s.Transition.String()
}

// ------------------------
// Shutdown cause
// ------------------------

// Cause is an OR-able set of conditions that triggered, or are about to
// trigger, a shutdown decision. The bit layout is part of the register
// protocol and must not change.
type Cause uint8

const (
	CauseNone       Cause = 0
	CauseHost       Cause = 1 << 1 // host asked for it (or its watchdog expired)
	CauseExtVoltage Cause = 1 << 2 // external/rail voltage lost
	CauseButton     Cause = 1 << 3
	CauseBatVoltage Cause = 1 << 7 // battery below the shutdown threshold

	// Causes at or above this level always force a shutdown, independent
	// of the vext_off_is_shutdown flag.
	causeHardLimit Cause = 1 << 5
)

func (c Cause) Has(o Cause) bool      { return c&o != 0 }
func (c Cause) With(o Cause) Cause    { return c | o }
func (c Cause) Without(o Cause) Cause { return c &^ o }

// Hard reports whether the set contains a cause that may not be revoked by
// a transient recovery.
func (c Cause) Hard() bool { return c >= causeHardLimit }

var causeNames = []struct {
	bit  Cause
	name string
}{
	{CauseHost, "host"},
	{CauseExtVoltage, "ext_voltage"},
	{CauseButton, "button"},
	{CauseBatVoltage, "bat_voltage"},
}

func (c Cause) String() string {
	if c == CauseNone {
		return "none"
	}
	s := ""
	for _, cn := range causeNames {
		if c.Has(cn.bit) {
			if s != "" {
				s += "|"
			}
			s += cn.name
		}
	}
	if s == "" {
		return "reserved"
	}
	return s
}

// ------------------------
// UPS configuration flags
// ------------------------

// UPSConfig controls how the switch line is pulsed.
type UPSConfig uint8

const (
	UPSTwoPulses       UPSConfig = 1 << 0 // pulse the switch twice
	UPSCheckExtVoltage UPSConfig = 1 << 1 // re-check rail voltage before the second pulse
)

func (u UPSConfig) Has(o UPSConfig) bool { return u&o != 0 }

// ------------------------
// Actuation decision
// ------------------------

// Decision is what a state-machine tick asks the pulse controller to do.
type Decision uint8

const (
	DecideNone Decision = iota
	DecideWarn
	DecideShutdown
	DecideRestart
)

func (d Decision) String() string {
	switch d {
	case DecideNone:
		return "none"
	case DecideWarn:
		return "warn"
	case DecideShutdown:
		return "shutdown"
	case DecideRestart:
		return "restart"
	default:
		return "invalid"
	}
}

// ------------------------
// Calibration
// ------------------------

// Calibration is a per-channel linear model mapping a raw ADC count to a
// physical milli-unit value: value = coefficient*raw/1000 + constant.
// The coefficient is expressed in micro-units per count so that the whole
// pair fits two 16-bit registers.
type Calibration struct {
	Coefficient uint16
	Constant    int16
}

// Apply converts a raw count, saturating to the int16 range instead of
// wrapping. Out-of-range input is not an error.
func (c Calibration) Apply(raw uint16) int16 {
	v := int32(uint32(c.Coefficient)*uint32(raw)/1000) + int32(c.Constant)
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
