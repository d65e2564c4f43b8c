package types

// ------------------------
// Hardware capabilities
// ------------------------
//
// The core never touches pins, ADC muxes or EEPROM cells directly; it is
// handed these narrow interfaces once at boot. Each target (MCU build,
// host simulation, tests) implements them exactly once.

// Channel selects an analog measurement source.
type Channel uint8

const (
	ChannelBattery Channel = iota
	ChannelExt
	ChannelTemperature
	NumChannels
)

func (c Channel) String() string {
	switch c {
	case ChannelBattery:
		return "battery"
	case ChannelExt:
		return "ext"
	case ChannelTemperature:
		return "temperature"
	default:
		return "invalid"
	}
}

// ADC performs one raw conversion on a channel. Readings are 10-bit on the
// reference target; the core treats them as opaque counts.
type ADC interface {
	ReadRaw(ch Channel) uint16
}

// GPIOHandle drives a single digital pin.
type GPIOHandle interface {
	ConfigureOutput(level bool) error
	Set(level bool)
	Get() bool
}

// EEPROM is byte-addressed durable memory. Writes are durable when the
// call returns; a power cut mid-write corrupts at most the byte being
// written. Hardware failure of the part is out of scope.
type EEPROM interface {
	ReadByte(addr int) byte
	WriteByte(addr int, b byte)
	Size() int
}

// Guard brackets a short, bounded critical section. On the MCU this masks
// interrupts; on a host it is a mutex. It is the only legal way to touch
// state shared between the tick path and the register-protocol path.
type Guard interface {
	Do(fn func())
}

// Diagnostics exposes the read-only identification bytes mirrored into the
// diagnostic registers.
type Diagnostics interface {
	FuseLow() byte
	FuseHigh() byte
	FuseExtended() byte
	MCUStatus() byte // last reset cause
}
