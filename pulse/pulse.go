// Package pulse translates a decided action into timed pulse sequences on
// the switch line (the host's power/reset switch) and the combined
// LED/button pin.
package pulse

import (
	"time"

	"github.com/jbaumann/attiny-daemon/config"
	"github.com/jbaumann/attiny-daemon/types"
)

const (
	// BlinkTime is how long the LED stays lit for a warn blink.
	BlinkTime = 100 * time.Millisecond

	// SwitchToPulseDiv derives the gap between the two pulses of a
	// double-pulse pattern from the switch recovery delay.
	SwitchToPulseDiv = 4
)

// Controller owns the switch and LED pins. It runs synchronously on the
// decision tick: a pattern in progress always completes before the next
// begins, and the switch pin is guaranteed released when Apply returns.
type Controller struct {
	switchPin types.GPIOHandle
	ledPin    types.GPIOHandle

	// Sleep is replaceable for tests.
	Sleep func(time.Duration)
}

func New(switchPin, ledPin types.GPIOHandle) *Controller {
	return &Controller{
		switchPin: switchPin,
		ledPin:    ledPin,
		Sleep:     time.Sleep,
	}
}

// Init releases the switch line and darkens the LED.
func (c *Controller) Init() error {
	if err := c.switchPin.ConfigureOutput(true); err != nil {
		return err
	}
	return c.ledPin.ConfigureOutput(false)
}

// Apply performs the pattern for one decision. extPresent is consulted
// only for the configured double-pulse recheck; it may be nil.
func (c *Controller) Apply(d types.Decision, rec config.Record, extPresent func() bool) {
	switch d {
	case types.DecideWarn:
		c.blink(rec)
	case types.DecideShutdown, types.DecideRestart:
		c.pulse(rec, extPresent)
	}
}

func (c *Controller) blink(rec config.Record) {
	if rec.LEDOffMode != 0 {
		return
	}
	c.ledPin.Set(true)
	c.Sleep(BlinkTime)
	c.ledPin.Set(false)
}

// pulse presses the switch once or twice. The line is active low.
func (c *Controller) pulse(rec config.Record, extPresent func() bool) {
	on, off := pulseTimes(rec)

	c.press(on, off)

	if rec.UPSConfig.Has(types.UPSTwoPulses) {
		gap := time.Duration(rec.SwitchRecoveryDelay/SwitchToPulseDiv) * time.Millisecond
		c.Sleep(gap)

		// Optionally skip the second press when the rail came back in
		// the meantime: the host is powering up already.
		if !(rec.UPSConfig.Has(types.UPSCheckExtVoltage) && extPresent != nil && extPresent()) {
			c.press(on, off)
		}
	}

	c.Sleep(time.Duration(rec.SwitchRecoveryDelay) * time.Millisecond)
	c.switchPin.Set(true) // released, always
}

func (c *Controller) press(on, off time.Duration) {
	c.switchPin.Set(false)
	c.Sleep(on)
	c.switchPin.Set(true)
	c.Sleep(off)
}

// pulseTimes falls back to the legacy single pulse_length when the split
// on/off durations were never configured.
func pulseTimes(rec config.Record) (on, off time.Duration) {
	onMs := rec.PulseLengthOn
	if onMs == 0 {
		onMs = rec.PulseLength
	}
	offMs := rec.PulseLengthOff
	if offMs == 0 {
		offMs = rec.PulseLength
	}
	return time.Duration(onMs) * time.Millisecond, time.Duration(offMs) * time.Millisecond
}
