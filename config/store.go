// Package config owns the durable configuration record: thresholds,
// calibration pairs, timing parameters and flags, stored in byte-addressed
// EEPROM behind a one-byte format marker derived from the firmware
// version. Everything else reads the RAM working copy; every host write
// lands in EEPROM immediately.
package config

import (
	"github.com/jbaumann/attiny-daemon/types"
)

// EEPROM layout. Fields are independently addressed so a power cut during
// a write corrupts at most the field being written. 16-bit fields are
// little-endian.
const (
	offMarker              = 0  // uint8
	offTimeout             = 1  // uint8
	offPrimed              = 2  // uint8
	offForceShutdown       = 3  // uint8
	offRestartVoltage      = 4  // uint16
	offWarnVoltage         = 6  // uint16
	offShutdownVoltage     = 8  // uint16
	offBatCoefficient      = 10 // uint16
	offBatConstant         = 12 // uint16
	offExtCoefficient      = 14 // uint16
	offExtConstant         = 16 // uint16
	offTempCoefficient     = 18 // uint16
	offTempConstant        = 20 // uint16
	offUPSConfig           = 22 // uint8
	offPulseLength         = 23 // uint16
	offPulseLengthOn       = 25 // uint16
	offPulseLengthOff      = 27 // uint16
	offSwitchRecoveryDelay = 29 // uint16
	offLEDOffMode          = 31 // uint8
	offVextOffIsShutdown   = 32 // uint8

	RecordSize = 33
)

// Marker packs the lower bits of the firmware version: 3 bits major,
// 5 bits minor. Any major or minor bump therefore invalidates a stored
// record and forces reinitialization.
func Marker() byte {
	return byte(types.VersionMajor&0x07)<<5 | byte(types.VersionMinor&0x1F)
}

// Field addresses one configuration value for register-mediated access.
type Field uint8

const (
	FieldTimeout Field = iota
	FieldPrimed
	FieldForceShutdown
	FieldRestartVoltage
	FieldWarnVoltage
	FieldShutdownVoltage
	FieldBatCoefficient
	FieldBatConstant
	FieldExtCoefficient
	FieldExtConstant
	FieldTempCoefficient
	FieldTempConstant
	FieldUPSConfig
	FieldPulseLength
	FieldPulseLengthOn
	FieldPulseLengthOff
	FieldSwitchRecoveryDelay
	FieldLEDOffMode
	FieldVextOffIsShutdown
	numFields
)

// Record is the RAM working copy of the persisted configuration.
type Record struct {
	Timeout             uint8
	Primed              uint8
	ForceShutdown       types.Cause // cause mask of the last shutdown episode
	RestartVoltage      uint16
	WarnVoltage         uint16
	ShutdownVoltage     uint16
	BatCal              types.Calibration
	ExtCal              types.Calibration
	TempCal             types.Calibration
	UPSConfig           types.UPSConfig
	PulseLength         uint16
	PulseLengthOn       uint16
	PulseLengthOff      uint16
	SwitchRecoveryDelay uint16
	LEDOffMode          uint8
	VextOffIsShutdown   uint8
}

// Calibration returns the pair for a channel.
func (r Record) Calibration(ch types.Channel) types.Calibration {
	switch ch {
	case types.ChannelExt:
		return r.ExtCal
	case types.ChannelTemperature:
		return r.TempCal
	default:
		return r.BatCal
	}
}

// Store couples the RAM working copy to the EEPROM behind a Guard. The
// guard is shared with the tick and protocol paths, so reads and writes
// here are safe from both.
type Store struct {
	ee    types.EEPROM
	guard types.Guard
	rec   Record
}

func NewStore(ee types.EEPROM, guard types.Guard) *Store {
	return &Store{ee: ee, guard: guard}
}

// Load reads the marker and either adopts the stored record or, on a
// missing/stale marker, writes the defaults. It runs once at boot, before
// the protocol handler is armed, so it takes the guard only for the final
// install of the working copy.
func (s *Store) Load() (fresh bool) {
	if s.ee.ReadByte(offMarker) != Marker() {
		s.writeAll(Defaults())
		fresh = true
	}
	rec := s.readAll()
	s.guard.Do(func() { s.rec = rec })
	return fresh
}

// ResetToDefaults rewrites every field and the marker. Triggered by the
// init_eeprom register; idempotent.
func (s *Store) ResetToDefaults() {
	s.writeAll(Defaults())
	rec := s.readAll()
	s.guard.Do(func() { s.rec = rec })
}

// Snapshot copies the working record under the guard.
func (s *Store) Snapshot() Record {
	var rec Record
	s.guard.Do(func() { rec = s.rec })
	return rec
}

// Get reads one field from the working copy.
func (s *Store) Get(f Field) uint16 {
	var v uint16
	s.guard.Do(func() { v = s.rec.get(f) })
	return v
}

// Set updates the working copy and persists the field immediately. Values
// wider than the field are truncated the same way the wire protocol
// truncates them.
func (s *Store) Set(f Field, v uint16) {
	s.guard.Do(func() { s.rec.set(f, v) })
	s.persist(f, v)
}

func (r *Record) get(f Field) uint16 {
	switch f {
	case FieldTimeout:
		return uint16(r.Timeout)
	case FieldPrimed:
		return uint16(r.Primed)
	case FieldForceShutdown:
		return uint16(r.ForceShutdown)
	case FieldRestartVoltage:
		return r.RestartVoltage
	case FieldWarnVoltage:
		return r.WarnVoltage
	case FieldShutdownVoltage:
		return r.ShutdownVoltage
	case FieldBatCoefficient:
		return r.BatCal.Coefficient
	case FieldBatConstant:
		return uint16(r.BatCal.Constant)
	case FieldExtCoefficient:
		return r.ExtCal.Coefficient
	case FieldExtConstant:
		return uint16(r.ExtCal.Constant)
	case FieldTempCoefficient:
		return r.TempCal.Coefficient
	case FieldTempConstant:
		return uint16(r.TempCal.Constant)
	case FieldUPSConfig:
		return uint16(r.UPSConfig)
	case FieldPulseLength:
		return r.PulseLength
	case FieldPulseLengthOn:
		return r.PulseLengthOn
	case FieldPulseLengthOff:
		return r.PulseLengthOff
	case FieldSwitchRecoveryDelay:
		return r.SwitchRecoveryDelay
	case FieldLEDOffMode:
		return uint16(r.LEDOffMode)
	case FieldVextOffIsShutdown:
		return uint16(r.VextOffIsShutdown)
	default:
		return 0
	}
}

func (r *Record) set(f Field, v uint16) {
	switch f {
	case FieldTimeout:
		r.Timeout = uint8(v)
	case FieldPrimed:
		r.Primed = uint8(v)
	case FieldForceShutdown:
		r.ForceShutdown = types.Cause(v)
	case FieldRestartVoltage:
		r.RestartVoltage = v
	case FieldWarnVoltage:
		r.WarnVoltage = v
	case FieldShutdownVoltage:
		r.ShutdownVoltage = v
	case FieldBatCoefficient:
		r.BatCal.Coefficient = v
	case FieldBatConstant:
		r.BatCal.Constant = int16(v)
	case FieldExtCoefficient:
		r.ExtCal.Coefficient = v
	case FieldExtConstant:
		r.ExtCal.Constant = int16(v)
	case FieldTempCoefficient:
		r.TempCal.Coefficient = v
	case FieldTempConstant:
		r.TempCal.Constant = int16(v)
	case FieldUPSConfig:
		r.UPSConfig = types.UPSConfig(v)
	case FieldPulseLength:
		r.PulseLength = v
	case FieldPulseLengthOn:
		r.PulseLengthOn = v
	case FieldPulseLengthOff:
		r.PulseLengthOff = v
	case FieldSwitchRecoveryDelay:
		r.SwitchRecoveryDelay = v
	case FieldLEDOffMode:
		r.LEDOffMode = uint8(v)
	case FieldVextOffIsShutdown:
		r.VextOffIsShutdown = uint8(v)
	}
}

// fieldLoc maps a field onto its EEPROM offset and width.
var fieldLoc = [numFields]struct {
	off  int
	wide bool
}{
	FieldTimeout:             {offTimeout, false},
	FieldPrimed:              {offPrimed, false},
	FieldForceShutdown:       {offForceShutdown, false},
	FieldRestartVoltage:      {offRestartVoltage, true},
	FieldWarnVoltage:         {offWarnVoltage, true},
	FieldShutdownVoltage:     {offShutdownVoltage, true},
	FieldBatCoefficient:      {offBatCoefficient, true},
	FieldBatConstant:         {offBatConstant, true},
	FieldExtCoefficient:      {offExtCoefficient, true},
	FieldExtConstant:         {offExtConstant, true},
	FieldTempCoefficient:     {offTempCoefficient, true},
	FieldTempConstant:        {offTempConstant, true},
	FieldUPSConfig:           {offUPSConfig, false},
	FieldPulseLength:         {offPulseLength, true},
	FieldPulseLengthOn:       {offPulseLengthOn, true},
	FieldPulseLengthOff:      {offPulseLengthOff, true},
	FieldSwitchRecoveryDelay: {offSwitchRecoveryDelay, true},
	FieldLEDOffMode:          {offLEDOffMode, false},
	FieldVextOffIsShutdown:   {offVextOffIsShutdown, false},
}

func (s *Store) persist(f Field, v uint16) {
	loc := fieldLoc[f]
	s.ee.WriteByte(loc.off, byte(v))
	if loc.wide {
		s.ee.WriteByte(loc.off+1, byte(v>>8))
	}
}

func (s *Store) readWord(off int) uint16 {
	return uint16(s.ee.ReadByte(off)) | uint16(s.ee.ReadByte(off+1))<<8
}

func (s *Store) readAll() Record {
	return Record{
		Timeout:       s.ee.ReadByte(offTimeout),
		Primed:        s.ee.ReadByte(offPrimed),
		ForceShutdown: types.Cause(s.ee.ReadByte(offForceShutdown)),

		RestartVoltage:  s.readWord(offRestartVoltage),
		WarnVoltage:     s.readWord(offWarnVoltage),
		ShutdownVoltage: s.readWord(offShutdownVoltage),

		BatCal: types.Calibration{
			Coefficient: s.readWord(offBatCoefficient),
			Constant:    int16(s.readWord(offBatConstant)),
		},
		ExtCal: types.Calibration{
			Coefficient: s.readWord(offExtCoefficient),
			Constant:    int16(s.readWord(offExtConstant)),
		},
		TempCal: types.Calibration{
			Coefficient: s.readWord(offTempCoefficient),
			Constant:    int16(s.readWord(offTempConstant)),
		},

		UPSConfig:           types.UPSConfig(s.ee.ReadByte(offUPSConfig)),
		PulseLength:         s.readWord(offPulseLength),
		PulseLengthOn:       s.readWord(offPulseLengthOn),
		PulseLengthOff:      s.readWord(offPulseLengthOff),
		SwitchRecoveryDelay: s.readWord(offSwitchRecoveryDelay),
		LEDOffMode:          s.ee.ReadByte(offLEDOffMode),
		VextOffIsShutdown:   s.ee.ReadByte(offVextOffIsShutdown),
	}
}

func (s *Store) writeWord(off int, v uint16) {
	s.ee.WriteByte(off, byte(v))
	s.ee.WriteByte(off+1, byte(v>>8))
}

// writeAll rewrites every field, the marker last so an interrupted
// initialization is retried on the next boot.
func (s *Store) writeAll(rec Record) {
	s.ee.WriteByte(offTimeout, rec.Timeout)
	s.ee.WriteByte(offPrimed, rec.Primed)
	s.ee.WriteByte(offForceShutdown, byte(rec.ForceShutdown))

	s.writeWord(offRestartVoltage, rec.RestartVoltage)
	s.writeWord(offWarnVoltage, rec.WarnVoltage)
	s.writeWord(offShutdownVoltage, rec.ShutdownVoltage)

	s.writeWord(offBatCoefficient, rec.BatCal.Coefficient)
	s.writeWord(offBatConstant, uint16(rec.BatCal.Constant))
	s.writeWord(offExtCoefficient, rec.ExtCal.Coefficient)
	s.writeWord(offExtConstant, uint16(rec.ExtCal.Constant))
	s.writeWord(offTempCoefficient, rec.TempCal.Coefficient)
	s.writeWord(offTempConstant, uint16(rec.TempCal.Constant))

	s.ee.WriteByte(offUPSConfig, byte(rec.UPSConfig))
	s.writeWord(offPulseLength, rec.PulseLength)
	s.writeWord(offPulseLengthOn, rec.PulseLengthOn)
	s.writeWord(offPulseLengthOff, rec.PulseLengthOff)
	s.writeWord(offSwitchRecoveryDelay, rec.SwitchRecoveryDelay)
	s.ee.WriteByte(offLEDOffMode, rec.LEDOffMode)
	s.ee.WriteByte(offVextOffIsShutdown, rec.VextOffIsShutdown)

	s.ee.WriteByte(offMarker, Marker())
}
