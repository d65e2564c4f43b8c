package regproto

import (
	"github.com/jbaumann/attiny-daemon/config"
	"github.com/jbaumann/attiny-daemon/errcode"
	"github.com/jbaumann/attiny-daemon/power"
	"github.com/jbaumann/attiny-daemon/sensor"
	"github.com/jbaumann/attiny-daemon/types"
	"github.com/jbaumann/attiny-daemon/watchdog"
	"github.com/jbaumann/attiny-daemon/x/crc8"
	"github.com/jbaumann/attiny-daemon/x/mathx"
)

// entry describes a writable config-backed register. Specials
// (telemetry, state, actions) are dispatched in code instead.
type entry struct {
	width uint8 // payload bytes
	field config.Field
	max   uint16 // write clamp, 0 means none
}

// regTable is fixed at compile time. Anything absent is an undocumented
// address: writes are discarded, reads return zeros.
var regTable = map[uint8]entry{
	RegBatCoefficient:      {2, config.FieldBatCoefficient, 0},
	RegBatConstant:         {2, config.FieldBatConstant, 0},
	RegExtCoefficient:      {2, config.FieldExtCoefficient, 0},
	RegExtConstant:         {2, config.FieldExtConstant, 0},
	RegTimeout:             {1, config.FieldTimeout, 0},
	RegLEDOffMode:          {1, config.FieldLEDOffMode, 0},
	RegRestartVoltage:      {2, config.FieldRestartVoltage, maxVoltage},
	RegWarnVoltage:         {2, config.FieldWarnVoltage, maxVoltage},
	RegShutdownVoltage:     {2, config.FieldShutdownVoltage, maxVoltage},
	RegTempCoefficient:     {2, config.FieldTempCoefficient, 0},
	RegTempConstant:        {2, config.FieldTempConstant, 0},
	RegUPSConfig:           {1, config.FieldUPSConfig, 0},
	RegPulseLength:         {2, config.FieldPulseLength, maxDuration},
	RegSwitchRecoveryDelay: {2, config.FieldSwitchRecoveryDelay, maxDuration},
	RegVextOffIsShutdown:   {1, config.FieldVextOffIsShutdown, 0},
	RegPulseLengthOn:       {2, config.FieldPulseLengthOn, maxDuration},
	RegPulseLengthOff:      {2, config.FieldPulseLengthOff, maxDuration},
}

// Handler owns the slave side of the protocol. The store guards itself;
// the shared guard here covers only the machine, the watchdog and the
// counters, which the tick loop also touches.
type Handler struct {
	store   *config.Store
	sens    *sensor.Sensor
	machine *power.Machine
	wdog    *watchdog.Watchdog
	diag    types.Diagnostics
	guard   types.Guard

	reg          uint8 // currently addressed register
	uptime       uint32
	lastAccess   uint16
	idleAtSelect uint16 // idle ticks seen when the current transaction began
}

func NewHandler(st *config.Store, s *sensor.Sensor, m *power.Machine, w *watchdog.Watchdog, d types.Diagnostics, g types.Guard) *Handler {
	return &Handler{store: st, sens: s, machine: m, wdog: w, diag: d, guard: g}
}

// TickCounters advances the uptime and idle counters once per firmware
// tick. The idle counter saturates instead of wrapping.
func (h *Handler) TickCounters() {
	h.guard.Do(func() {
		h.uptime++
		if h.lastAccess < 0xFFFF {
			h.lastAccess++
		}
	})
}

// Receive handles a host write. A single byte selects the register for a
// following read; anything longer is payload plus trailing CRC.
func (h *Handler) Receive(data []byte) error {
	if len(data) == 0 {
		return errcode.BadLength
	}
	reg := data[0]
	h.guard.Do(func() {
		h.idleAtSelect = h.lastAccess
		h.lastAccess = 0
		h.reg = reg
	})
	if len(data) == 1 {
		return nil
	}
	payload := data[1 : len(data)-1]
	if crc8.Sum(reg, payload) != data[len(data)-1] {
		return errcode.BadCRC
	}
	var value uint16
	switch len(payload) {
	case 1:
		value = uint16(payload[0])
	case 2:
		value = uint16(payload[0]) | uint16(payload[1])<<8
	default:
		return errcode.BadLength
	}
	return h.write(reg, value, uint8(len(payload)))
}

func (h *Handler) write(reg uint8, value uint16, width uint8) error {
	switch reg {
	case RegPrimed:
		h.store.Set(config.FieldPrimed, value&1)
		h.guard.Do(func() { h.wdog.Feed() })
		return nil
	case RegForceShutdown:
		if value == 0 {
			return errcode.InvalidParams
		}
		h.guard.Do(func() { h.machine.Inject(types.CauseHost) })
		return nil
	case RegInitEEPROM:
		if value != InitSentinel {
			return errcode.InvalidParams
		}
		h.store.ResetToDefaults()
		return nil
	case RegLastAccess, RegBatVoltage, RegExtVoltage, RegTemperature,
		RegShouldShutdown, RegVersion, RegFuseLow, RegFuseHigh,
		RegFuseExtended, RegInternalState, RegUptime, RegMCUStatus:
		return errcode.ReadOnlyRegister
	}
	e, ok := regTable[reg]
	if !ok {
		return errcode.UnknownRegister
	}
	if e.width != width {
		return errcode.BadLength
	}
	if e.max != 0 {
		value = mathx.Min(value, e.max)
	}
	h.store.Set(e.field, value)
	return nil
}

// Request produces the frame for a read of the currently addressed
// register: payload bytes little-endian, then the CRC.
func (h *Handler) Request() []byte {
	var reg uint8
	h.guard.Do(func() {
		h.lastAccess = 0
		reg = h.reg
	})
	payload := h.read(reg)
	return append(payload, crc8.Sum(reg, payload))
}

func (h *Handler) read(reg uint8) []byte {
	switch reg {
	case RegLastAccess:
		var idle uint16
		h.guard.Do(func() { idle = h.idleAtSelect })
		return le16(idle)
	case RegBatVoltage:
		return le16(uint16(h.sample(types.ChannelBattery)))
	case RegExtVoltage:
		return le16(uint16(h.sample(types.ChannelExt)))
	case RegTemperature:
		return le16(uint16(h.sample(types.ChannelTemperature)))
	case RegShouldShutdown:
		var c types.Cause
		h.guard.Do(func() { c = h.machine.Causes() })
		return []byte{uint8(c)}
	case RegInternalState:
		var b uint8
		h.guard.Do(func() { b = h.machine.State().Bits() })
		return []byte{b}
	case RegVersion:
		return le32(types.VersionWord())
	case RegUptime:
		var u uint32
		h.guard.Do(func() { u = h.uptime })
		return le32(u)
	case RegFuseLow:
		return []byte{h.diag.FuseLow()}
	case RegFuseHigh:
		return []byte{h.diag.FuseHigh()}
	case RegFuseExtended:
		return []byte{h.diag.FuseExtended()}
	case RegMCUStatus:
		return []byte{h.diag.MCUStatus()}
	case RegPrimed:
		return []byte{uint8(h.store.Get(config.FieldPrimed))}
	case RegForceShutdown:
		return []byte{uint8(h.store.Get(config.FieldForceShutdown))}
	}
	if e, ok := regTable[reg]; ok {
		v := h.store.Get(e.field)
		if e.width == 1 {
			return []byte{uint8(v)}
		}
		return le16(v)
	}
	// Undocumented address. A fixed zero frame keeps probing hosts
	// from reading garbage.
	return le16(0)
}

// sample runs a fresh measurement with the current calibration, so a
// host read always reflects the supply right now rather than the last
// tick.
func (h *Handler) sample(ch types.Channel) int16 {
	cal := h.store.Snapshot().Calibration(ch)
	return h.sens.Sample(ch, cal)
}

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
