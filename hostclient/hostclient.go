// Package hostclient talks to the UPS controller from the host side:
// CRC-checked register reads, verified writes and typed accessors for
// every documented register. It works over any drivers.I2C, so the same
// code drives a physical bus and the in-process simulation.
package hostclient

import (
	"time"

	"tinygo.org/x/drivers"

	"github.com/jbaumann/attiny-daemon/errcode"
	"github.com/jbaumann/attiny-daemon/regproto"
	"github.com/jbaumann/attiny-daemon/types"
	"github.com/jbaumann/attiny-daemon/x/crc8"
)

const defaultRetries = 10

// Client wraps one controller on one bus.
type Client struct {
	bus  drivers.I2C
	addr uint16

	// Retries bounds how often a transfer is repeated on CRC or
	// verify failure before giving up.
	Retries int

	// Sleep runs between retries; tests replace it.
	Sleep func(time.Duration)
}

func New(bus drivers.I2C) *Client {
	return &Client{
		bus:     bus,
		addr:    regproto.Address,
		Retries: defaultRetries,
		Sleep:   time.Sleep,
	}
}

// ----- raw transfers ---------------------------------------------------------

// read fetches width payload bytes from reg, retrying until the CRC
// checks out.
func (c *Client) read(reg uint8, width int) ([]byte, error) {
	var lastErr error = errcode.Timeout
	for i := 0; i < c.Retries; i++ {
		if i > 0 {
			c.Sleep(20 * time.Millisecond)
		}
		buf := make([]byte, width+1)
		if err := c.bus.Tx(c.addr, []byte{reg}, buf); err != nil {
			lastErr = err
			continue
		}
		if crc8.Sum(reg, buf[:width]) != buf[width] {
			lastErr = errcode.BadCRC
			continue
		}
		return buf[:width], nil
	}
	return nil, lastErr
}

// write sends value and reads it back; the controller silently discards
// corrupt frames, so the read-back is the only confirmation we get.
func (c *Client) write(reg uint8, value uint16, width int) error {
	payload := []byte{byte(value)}
	if width == 2 {
		payload = append(payload, byte(value>>8))
	}
	frame := append([]byte{reg}, payload...)
	frame = append(frame, crc8.Sum(reg, payload))

	var lastErr error = errcode.Timeout
	for i := 0; i < c.Retries; i++ {
		if i > 0 {
			c.Sleep(20 * time.Millisecond)
		}
		if err := c.bus.Tx(c.addr, frame, nil); err != nil {
			lastErr = err
			continue
		}
		got, err := c.read(reg, width)
		if err != nil {
			lastErr = err
			continue
		}
		echo := uint16(got[0])
		if width == 2 {
			echo |= uint16(got[1]) << 8
		}
		if echo != value {
			lastErr = errcode.Error
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Client) read8(reg uint8) (uint8, error) {
	b, err := c.read(reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Client) read16(reg uint8) (uint16, error) {
	b, err := c.read(reg, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (c *Client) read32(reg uint8) (uint32, error) {
	b, err := c.read(reg, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ----- identity --------------------------------------------------------------

// Version returns the firmware version triple.
func (c *Client) Version() (major, minor, patch uint8, err error) {
	word, err := c.read32(regproto.RegVersion)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint8(word >> 16), uint8(word >> 8), uint8(word), nil
}

// Probe verifies the controller answers and speaks our protocol major.
func (c *Client) Probe() error {
	major, _, _, err := c.Version()
	if err != nil {
		return errcode.NotPresent
	}
	if major != types.VersionMajor {
		return errcode.VersionSkew
	}
	return nil
}

func (c *Client) Uptime() (uint32, error)     { return c.read32(regproto.RegUptime) }
func (c *Client) LastAccess() (uint16, error) { return c.read16(regproto.RegLastAccess) }
func (c *Client) MCUStatus() (uint8, error)   { return c.read8(regproto.RegMCUStatus) }

// Fuses returns the low, high and extended fuse bytes.
func (c *Client) Fuses() (low, high, extended uint8, err error) {
	if low, err = c.read8(regproto.RegFuseLow); err != nil {
		return
	}
	if high, err = c.read8(regproto.RegFuseHigh); err != nil {
		return
	}
	extended, err = c.read8(regproto.RegFuseExtended)
	return
}

// ----- telemetry -------------------------------------------------------------

func (c *Client) BatVoltage() (int16, error)  { return c.readSigned(regproto.RegBatVoltage) }
func (c *Client) ExtVoltage() (int16, error)  { return c.readSigned(regproto.RegExtVoltage) }
func (c *Client) Temperature() (int16, error) { return c.readSigned(regproto.RegTemperature) }

func (c *Client) readSigned(reg uint8) (int16, error) {
	v, err := c.read16(reg)
	return int16(v), err
}

// InternalState returns the controller's state bitmask.
func (c *Client) InternalState() (uint8, error) { return c.read8(regproto.RegInternalState) }

// ShouldShutdown returns the live episode cause mask. Nonzero means the
// controller wants the host to shut down.
func (c *Client) ShouldShutdown() (types.Cause, error) {
	v, err := c.read8(regproto.RegShouldShutdown)
	return types.Cause(v), err
}

// LastShutdownCause returns the persisted mask of the previous episode.
func (c *Client) LastShutdownCause() (types.Cause, error) {
	v, err := c.read8(regproto.RegForceShutdown)
	return types.Cause(v), err
}

// ----- watchdog --------------------------------------------------------------

func (c *Client) Timeout() (uint8, error) {
	v, err := c.read8(regproto.RegTimeout)
	return v, err
}

func (c *Client) SetTimeout(seconds uint8) error {
	return c.write(regproto.RegTimeout, uint16(seconds), 1)
}

func (c *Client) Primed() (bool, error) {
	v, err := c.read8(regproto.RegPrimed)
	return v != 0, err
}

// SetPrimed arms (or disarms) the watchdog; writing it also counts as a
// heartbeat.
func (c *Client) SetPrimed(on bool) error {
	v := uint16(0)
	if on {
		v = 1
	}
	return c.write(regproto.RegPrimed, v, 1)
}

// ----- thresholds and calibration --------------------------------------------

func (c *Client) RestartVoltage() (uint16, error) { return c.read16(regproto.RegRestartVoltage) }
func (c *Client) WarnVoltage() (uint16, error)    { return c.read16(regproto.RegWarnVoltage) }
func (c *Client) ShutdownVoltage() (uint16, error) {
	return c.read16(regproto.RegShutdownVoltage)
}

func (c *Client) SetRestartVoltage(mv uint16) error {
	return c.write(regproto.RegRestartVoltage, mv, 2)
}
func (c *Client) SetWarnVoltage(mv uint16) error {
	return c.write(regproto.RegWarnVoltage, mv, 2)
}
func (c *Client) SetShutdownVoltage(mv uint16) error {
	return c.write(regproto.RegShutdownVoltage, mv, 2)
}

// Calibration reads the coefficient/constant pair for a channel.
func (c *Client) Calibration(ch types.Channel) (types.Calibration, error) {
	coefReg, constReg := calRegs(ch)
	coef, err := c.read16(coefReg)
	if err != nil {
		return types.Calibration{}, err
	}
	cons, err := c.read16(constReg)
	if err != nil {
		return types.Calibration{}, err
	}
	return types.Calibration{Coefficient: coef, Constant: int16(cons)}, nil
}

func (c *Client) SetCalibration(ch types.Channel, cal types.Calibration) error {
	coefReg, constReg := calRegs(ch)
	if err := c.write(coefReg, cal.Coefficient, 2); err != nil {
		return err
	}
	return c.write(constReg, uint16(cal.Constant), 2)
}

func calRegs(ch types.Channel) (coef, cons uint8) {
	switch ch {
	case types.ChannelExt:
		return regproto.RegExtCoefficient, regproto.RegExtConstant
	case types.ChannelTemperature:
		return regproto.RegTempCoefficient, regproto.RegTempConstant
	default:
		return regproto.RegBatCoefficient, regproto.RegBatConstant
	}
}

// ----- pulse configuration ---------------------------------------------------

func (c *Client) UPSConfig() (types.UPSConfig, error) {
	v, err := c.read8(regproto.RegUPSConfig)
	return types.UPSConfig(v), err
}

func (c *Client) SetUPSConfig(cfg types.UPSConfig) error {
	return c.write(regproto.RegUPSConfig, uint16(cfg), 1)
}

func (c *Client) PulseLengthOn() (uint16, error)  { return c.read16(regproto.RegPulseLengthOn) }
func (c *Client) PulseLengthOff() (uint16, error) { return c.read16(regproto.RegPulseLengthOff) }
func (c *Client) SwitchRecoveryDelay() (uint16, error) {
	return c.read16(regproto.RegSwitchRecoveryDelay)
}

func (c *Client) SetPulseLengthOn(ms uint16) error {
	return c.write(regproto.RegPulseLengthOn, ms, 2)
}
func (c *Client) SetPulseLengthOff(ms uint16) error {
	return c.write(regproto.RegPulseLengthOff, ms, 2)
}
func (c *Client) SetSwitchRecoveryDelay(ms uint16) error {
	return c.write(regproto.RegSwitchRecoveryDelay, ms, 2)
}

func (c *Client) LEDOffMode() (bool, error) {
	v, err := c.read8(regproto.RegLEDOffMode)
	return v != 0, err
}

func (c *Client) SetLEDOffMode(on bool) error {
	v := uint16(0)
	if on {
		v = 1
	}
	return c.write(regproto.RegLEDOffMode, v, 1)
}

func (c *Client) VextOffIsShutdown() (bool, error) {
	v, err := c.read8(regproto.RegVextOffIsShutdown)
	return v != 0, err
}

func (c *Client) SetVextOffIsShutdown(on bool) error {
	v := uint16(0)
	if on {
		v = 1
	}
	return c.write(regproto.RegVextOffIsShutdown, v, 1)
}

// ----- actions ---------------------------------------------------------------

// ForceShutdown asks the controller to start a shutdown episode with the
// host cause bit. Write-only on the controller side, so no verify.
func (c *Client) ForceShutdown() error {
	return c.writeNoVerify(regproto.RegForceShutdown, uint16(types.CauseHost), 1)
}

// InitEEPROM resets the controller's configuration to firmware defaults.
func (c *Client) InitEEPROM() error {
	return c.writeNoVerify(regproto.RegInitEEPROM, regproto.InitSentinel, 1)
}

func (c *Client) writeNoVerify(reg uint8, value uint16, width int) error {
	payload := []byte{byte(value)}
	if width == 2 {
		payload = append(payload, byte(value>>8))
	}
	frame := append([]byte{reg}, payload...)
	frame = append(frame, crc8.Sum(reg, payload))
	return c.bus.Tx(c.addr, frame, nil)
}
