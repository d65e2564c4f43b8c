// Package regproto implements the register map the host talks to over
// I2C: telemetry reads, configuration reads/writes and the action
// registers. Every transfer is checksummed with the shared CRC-8 so a
// flaky bus is detected by the host's read-back verify.
package regproto

// 7-bit slave address.
const Address = 0x37

// Register sub-addresses. Widths are the payload sizes on the wire; every
// frame carries one extra CRC byte.
const (
	RegLastAccess = 0x01 // R, 16-bit, ticks since last host access

	RegBatVoltage     = 0x11 // R, 16-bit, calibrated mV
	RegExtVoltage     = 0x12 // R, 16-bit, calibrated mV
	RegBatCoefficient = 0x13 // R/W, 16-bit
	RegBatConstant    = 0x14 // R/W, 16-bit
	RegExtCoefficient = 0x15 // R/W, 16-bit
	RegExtConstant    = 0x16 // R/W, 16-bit

	RegTimeout        = 0x21 // R/W, 8-bit, watchdog window in ticks
	RegPrimed         = 0x22 // R/W, 8-bit, host heartbeat flag
	RegShouldShutdown = 0x23 // R, 8-bit, live episode cause mask
	RegForceShutdown  = 0x24 // R/W, 8-bit, write injects a host cause
	RegLEDOffMode     = 0x25 // R/W, 8-bit

	RegRestartVoltage  = 0x31 // R/W, 16-bit
	RegWarnVoltage     = 0x32 // R/W, 16-bit
	RegShutdownVoltage = 0x33 // R/W, 16-bit

	RegTemperature     = 0x41 // R, 16-bit, calibrated degrees
	RegTempCoefficient = 0x42 // R/W, 16-bit
	RegTempConstant    = 0x43 // R/W, 16-bit

	RegUPSConfig           = 0x51 // R/W, 8-bit, pulse behavior flags
	RegPulseLength         = 0x52 // R/W, 16-bit, legacy combined ms
	RegSwitchRecoveryDelay = 0x53 // R/W, 16-bit, ms
	RegVextOffIsShutdown   = 0x54 // R/W, 8-bit
	RegPulseLengthOn       = 0x55 // R/W, 16-bit, ms
	RegPulseLengthOff      = 0x56 // R/W, 16-bit, ms

	RegVersion       = 0x80 // R, 32-bit, major<<16|minor<<8|patch
	RegFuseLow       = 0x81 // R, 8-bit
	RegFuseHigh      = 0x82 // R, 8-bit
	RegFuseExtended  = 0x83 // R, 8-bit
	RegInternalState = 0x84 // R, 8-bit, state bitmask
	RegUptime        = 0x85 // R, 32-bit, ticks since boot
	RegMCUStatus     = 0x86 // R, 8-bit, last reset cause

	RegInitEEPROM = 0xFF // W, writing the sentinel reloads defaults
)

// InitSentinel is the only value accepted by RegInitEEPROM.
const InitSentinel = 1

// Physical-range clamps applied on write. Values without a meaningful
// range are accepted verbatim.
const (
	maxVoltage  = 32767 // mV, the telemetry path is signed 16-bit
	maxDuration = 60000 // ms
)
