package config

import "github.com/jbaumann/attiny-daemon/types"

// Firmware defaults, written whenever the format marker does not match the
// running version. Calibration pairs are chosen so an uncalibrated board
// still reports plausible values: the voltage coefficient assumes a 10-bit
// ADC spanning roughly 5 V (4883 µV per count), the temperature pair maps
// the MCU's internal sensor onto whole degrees.
const (
	DefaultTimeout             = 120 // seconds of host silence before the watchdog fires
	DefaultRestartVoltage      = 3900
	DefaultWarnVoltage         = 3400
	DefaultShutdownVoltage     = 3200
	DefaultVoltageCoefficient  = 4883
	DefaultVoltageConstant     = 0
	DefaultTempCoefficient     = 1000
	DefaultTempConstant        = -275
	DefaultPulseLength         = 200
	DefaultPulseLengthOn       = 200
	DefaultPulseLengthOff      = 200
	DefaultSwitchRecoveryDelay = 1000
)

// Defaults returns the record written on first boot or marker mismatch.
func Defaults() Record {
	return Record{
		Timeout:         DefaultTimeout,
		Primed:          0,
		ForceShutdown:   types.CauseNone,
		RestartVoltage:  DefaultRestartVoltage,
		WarnVoltage:     DefaultWarnVoltage,
		ShutdownVoltage: DefaultShutdownVoltage,
		BatCal: types.Calibration{
			Coefficient: DefaultVoltageCoefficient,
			Constant:    DefaultVoltageConstant,
		},
		ExtCal: types.Calibration{
			Coefficient: DefaultVoltageCoefficient,
			Constant:    DefaultVoltageConstant,
		},
		TempCal: types.Calibration{
			Coefficient: DefaultTempCoefficient,
			Constant:    DefaultTempConstant,
		},
		UPSConfig:           0,
		PulseLength:         DefaultPulseLength,
		PulseLengthOn:       DefaultPulseLengthOn,
		PulseLengthOff:      DefaultPulseLengthOff,
		SwitchRecoveryDelay: DefaultSwitchRecoveryDelay,
		LEDOffMode:          0,
		VextOffIsShutdown:   0,
	}
}
