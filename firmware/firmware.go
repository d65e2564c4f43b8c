// Package firmware wires the sensing, state machine, configuration,
// watchdog, pulse and register-protocol pieces into one core driven by a
// periodic tick. The core also publishes retained telemetry on the
// in-process bus so host tooling can observe it without reaching into
// internals.
package firmware

import (
	"context"
	"time"

	"github.com/jbaumann/attiny-daemon/bus"
	"github.com/jbaumann/attiny-daemon/config"
	"github.com/jbaumann/attiny-daemon/power"
	"github.com/jbaumann/attiny-daemon/pulse"
	"github.com/jbaumann/attiny-daemon/regproto"
	"github.com/jbaumann/attiny-daemon/sensor"
	"github.com/jbaumann/attiny-daemon/types"
	"github.com/jbaumann/attiny-daemon/watchdog"
	"github.com/jbaumann/attiny-daemon/x/timex"
)

// Hardware bundles the capability implementations a target provides: the
// simulator for host builds, real peripherals on an MCU.
type Hardware struct {
	ADC       types.ADC
	SwitchPin types.GPIOHandle
	LEDPin    types.GPIOHandle
	EEPROM    types.EEPROM
	Guard     types.Guard
	Diag      types.Diagnostics
}

// Telemetry is the payload published on ups/telemetry each tick.
type Telemetry struct {
	Battery     int16 `json:"battery_mv"`
	Ext         int16 `json:"ext_mv"`
	Temperature int16 `json:"temperature"`
}

// Status is the payload published on ups/state whenever it changes.
type Status struct {
	State  string `json:"state"`
	Bits   uint8  `json:"bits"`
	Causes uint8  `json:"causes"`
}

var (
	topicTelemetry = bus.Topic{"ups", "telemetry"}
	topicState     = bus.Topic{"ups", "state"}
	topicDecision  = bus.Topic{"ups", "decision"}
	topicVersion   = bus.Topic{"ups", "version"}
)

// Core is the assembled firmware.
type Core struct {
	store   *config.Store
	sens    *sensor.Sensor
	machine *power.Machine
	wdog    *watchdog.Watchdog
	pulser  *pulse.Controller
	handler *regproto.Handler
	guard   types.Guard
	conn    *bus.Connection

	lastStatus Status

	// episode cause waiting to be written to EEPROM, set by the
	// machine's persist hook under the guard
	persistMask  types.Cause
	persistDirty bool
}

// New loads the configuration, settles the hardware into its idle levels
// and publishes the retained identity message.
func New(hw Hardware, b *bus.Bus) (*Core, error) {
	store := config.NewStore(hw.EEPROM, hw.Guard)
	store.Load()

	c := &Core{
		store:  store,
		sens:   sensor.New(hw.ADC),
		wdog:   watchdog.New(),
		pulser: pulse.New(hw.SwitchPin, hw.LEDPin),
		guard:  hw.Guard,
		conn:   b.NewConnection("firmware"),
	}
	// The hook runs while the guard is held (the machine ticks inside
	// it), and Store.Set takes the guard itself. So only note the mask
	// here; Tick persists it after the critical section ends.
	c.machine = power.NewMachine(func(cause types.Cause) {
		c.persistMask = cause
		c.persistDirty = true
	})
	c.handler = regproto.NewHandler(store, c.sens, c.machine, c.wdog, hw.Diag, hw.Guard)

	if err := c.pulser.Init(); err != nil {
		return nil, err
	}
	c.publish(topicVersion, types.VersionWord(), true)
	return c, nil
}

// Handler exposes the register protocol slave for bus wiring.
func (c *Core) Handler() *regproto.Handler { return c.handler }

// Target returns an in-process I2C endpoint backed by this core.
func (c *Core) Target() *regproto.Target { return regproto.NewTarget(c.handler) }

// Store exposes the configuration store, mainly for host simulations.
func (c *Core) Store() *config.Store { return c.store }

// PressButton registers a physical button press; the next tick starts a
// shutdown episode with the button cause.
func (c *Core) PressButton() {
	c.guard.Do(func() { c.machine.Inject(types.CauseButton) })
}

// Tick runs one measurement cycle: sample, advance the watchdog and the
// state machine, drive the pulse pattern the decision asks for, publish
// telemetry.
func (c *Core) Tick() types.Decision {
	rec := c.store.Snapshot()

	bat := c.sens.Sample(types.ChannelBattery, rec.BatCal)
	ext := c.sens.Sample(types.ChannelExt, rec.ExtCal)
	temp := c.sens.Sample(types.ChannelTemperature, rec.TempCal)

	c.handler.TickCounters()

	var (
		decision types.Decision
		fired    bool
		status   Status
		persist  types.Cause
		dirty    bool
	)
	c.guard.Do(func() {
		fired = c.wdog.Tick(rec.Timeout, rec.Primed != 0)
		if fired {
			c.machine.Inject(types.CauseHost)
		}
		decision = c.machine.Tick(bat, ext, rec)
		persist, dirty = c.persistMask, c.persistDirty
		c.persistDirty = false

		st := c.machine.State()
		status = Status{
			State:  st.String(),
			Bits:   st.Bits(),
			Causes: uint8(c.machine.Causes()),
		}
	})
	if fired {
		// The host missed its window; it has to re-arm explicitly.
		c.store.Set(config.FieldPrimed, 0)
	}
	if dirty {
		c.store.Set(config.FieldForceShutdown, uint16(persist))
	}

	c.pulser.Apply(decision, rec, func() bool {
		v := c.sens.Sample(types.ChannelExt, rec.ExtCal)
		return int32(v) >= power.MinPowerLevel
	})

	c.publish(topicTelemetry, Telemetry{Battery: bat, Ext: ext, Temperature: temp}, true)
	if status != c.lastStatus {
		c.lastStatus = status
		c.publish(topicState, status, true)
	}
	if decision != types.DecideNone {
		c.publish(topicDecision, decision.String(), false)
	}
	return decision
}

// Run ticks the core at the given interval until the context ends.
func (c *Core) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	defer c.conn.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.Tick()
		}
	}
}

func (c *Core) publish(topic bus.Topic, payload any, retained bool) {
	msg := c.conn.NewMessage(topic, payload, retained)
	msg.TSms = timex.NowMs()
	c.conn.Publish(msg)
}
