package firmware

import (
	"testing"
	"time"

	"github.com/jbaumann/attiny-daemon/bus"
	"github.com/jbaumann/attiny-daemon/config"
	"github.com/jbaumann/attiny-daemon/regproto"
	"github.com/jbaumann/attiny-daemon/sim"
	"github.com/jbaumann/attiny-daemon/types"
	"github.com/jbaumann/attiny-daemon/x/crc8"
)

// Raw ADC counts at the default 4883 uV/count calibration.
const (
	rawHealthy  = 850  // ~4150 mV, above restart
	rawWarn     = 680  // ~3320 mV, between shutdown and warn
	rawShutdown = 640  // ~3125 mV, below shutdown
	rawExtOK    = 1000 // ~4883 mV, above the supply-present level
)

type rig struct {
	core *Core
	adc  *sim.ADC
	sw   *sim.Pin
	led  *sim.Pin
	b    *bus.Bus
}

func newRig(t *testing.T) *rig {
	t.Helper()
	return newRigWith(t, sim.NewEEPROM(64))
}

func newRigWith(t *testing.T, ee *sim.EEPROM) *rig {
	t.Helper()
	r := &rig{
		adc: sim.NewADC(),
		sw:  sim.NewPin(),
		led: sim.NewPin(),
		b:   bus.NewBus(32),
	}
	hw := Hardware{
		ADC:       r.adc,
		SwitchPin: r.sw,
		LEDPin:    r.led,
		EEPROM:    ee,
		Guard:     sim.NewGuard(),
		Diag:      sim.Diagnostics{},
	}
	core, err := New(hw, r.b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	core.pulser.Sleep = func(time.Duration) {}
	r.core = core

	r.adc.SetRaw(types.ChannelBattery, rawHealthy)
	r.adc.SetRaw(types.ChannelExt, rawExtOK)
	r.sw.ResetLog()
	r.led.ResetLog()
	return r
}

// ticks runs n ticks and returns the non-none decisions in order.
func (r *rig) ticks(n int) []types.Decision {
	var out []types.Decision
	for i := 0; i < n; i++ {
		if d := r.core.Tick(); d != types.DecideNone {
			out = append(out, d)
		}
	}
	return out
}

func TestBootPublishesVersion(t *testing.T) {
	r := newRig(t)
	conn := r.b.NewConnection("test")
	defer conn.Disconnect()

	sub := conn.Subscribe(bus.Topic{"ups", "version"})
	select {
	case msg := <-sub.Channel():
		if msg.Payload != types.VersionWord() {
			t.Fatalf("version payload %v", msg.Payload)
		}
	default:
		t.Fatal("no retained version message")
	}
}

func TestDischargeAndRecovery(t *testing.T) {
	r := newRig(t)

	if d := r.ticks(2); d != nil {
		t.Fatalf("healthy supply decided %v", d)
	}

	// Sag into the warn band: one immediate warn, LED blinks.
	r.adc.SetRaw(types.ChannelBattery, rawWarn)
	if d := r.ticks(1); len(d) != 1 || d[0] != types.DecideWarn {
		t.Fatalf("warn band decided %v", d)
	}
	blinked := false
	for _, lvl := range r.led.Writes() {
		blinked = blinked || lvl
	}
	if !blinked {
		t.Fatal("warn did not blink the LED")
	}

	// Below the shutdown threshold: confirmed after the debounce window.
	r.sw.ResetLog()
	r.adc.SetRaw(types.ChannelBattery, rawShutdown)
	d := r.ticks(4)
	if len(d) != 1 || d[0] != types.DecideShutdown {
		t.Fatalf("shutdown walk decided %v", d)
	}
	if w := r.sw.Writes(); len(w) != 2 || w[0] || !w[1] {
		t.Fatalf("shutdown pulse wrote %v, want press and release", w)
	}

	// Supply returns: restart confirmed after the same debounce window.
	r.sw.ResetLog()
	r.adc.SetRaw(types.ChannelBattery, rawHealthy)
	d = r.ticks(4)
	if len(d) != 1 || d[0] != types.DecideRestart {
		t.Fatalf("recovery walk decided %v", d)
	}
	if w := r.sw.Writes(); len(w) != 2 || w[0] || !w[1] {
		t.Fatalf("restart pulse wrote %v", w)
	}

	// Episode over: the live mask is clear, the persisted one is not.
	if c := r.core.machine.Causes(); c != types.CauseNone {
		t.Fatalf("live causes 0x%02x after recovery", uint8(c))
	}
	if got := r.core.store.Get(config.FieldForceShutdown); got&uint16(types.CauseBatVoltage) == 0 {
		t.Fatalf("persisted cause 0x%02x missing battery bit", got)
	}
}

// The persist hook fires inside the guarded section of the tick; Tick
// must still return and the cause must still land in the EEPROM field.
func TestEpisodeTickReturnsAndPersistsCause(t *testing.T) {
	r := newRig(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ticks(1) // settle into running
		r.adc.SetRaw(types.ChannelBattery, rawWarn)
		r.ticks(1)
		r.adc.SetRaw(types.ChannelBattery, rawShutdown)
		r.ticks(4)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not return while recording the episode cause")
	}

	if got := r.core.store.Get(config.FieldForceShutdown); got&uint16(types.CauseBatVoltage) == 0 {
		t.Fatalf("persisted cause 0x%02x missing battery bit", got)
	}
}

func TestWatchdogSilenceForcesShutdown(t *testing.T) {
	r := newRig(t)
	r.core.store.Set(config.FieldTimeout, 5)
	r.core.store.Set(config.FieldPrimed, 1)

	d := r.ticks(6)
	if len(d) != 1 || d[0] != types.DecideShutdown {
		t.Fatalf("silent host decided %v, want one shutdown at tick 6", d)
	}
	if !r.core.machine.Causes().Has(types.CauseHost) {
		t.Fatal("host cause missing after watchdog expiry")
	}
	if r.core.store.Get(config.FieldPrimed) != 0 {
		t.Fatal("primed not cleared after expiry")
	}
}

func TestPrimedRefreshSuppressesWatchdog(t *testing.T) {
	r := newRig(t)
	r.core.store.Set(config.FieldTimeout, 5)
	r.core.store.Set(config.FieldPrimed, 1)

	refresh := []byte{regproto.RegPrimed, 1, crc8.Sum(regproto.RegPrimed, []byte{1})}
	for i := 0; i < 12; i++ {
		if i%4 == 3 {
			if err := r.core.handler.Receive(refresh); err != nil {
				t.Fatalf("refresh: %v", err)
			}
		}
		if d := r.core.Tick(); d != types.DecideNone {
			t.Fatalf("tick %d decided %v with a live host", i, d)
		}
	}
}

func TestTelemetryPublishedEachTick(t *testing.T) {
	r := newRig(t)
	conn := r.b.NewConnection("test")
	defer conn.Disconnect()
	sub := conn.Subscribe(bus.Topic{"ups", "telemetry"})

	r.core.Tick()

	select {
	case msg := <-sub.Channel():
		tm, ok := msg.Payload.(Telemetry)
		if !ok {
			t.Fatalf("payload %T", msg.Payload)
		}
		if tm.Battery != 4150 {
			t.Fatalf("battery %d mV, want 4150", tm.Battery)
		}
		if msg.TSms == 0 {
			t.Fatal("timestamp not set")
		}
	default:
		t.Fatal("no telemetry message")
	}
}

func TestStatePublishedOnChange(t *testing.T) {
	r := newRig(t)
	conn := r.b.NewConnection("test")
	defer conn.Disconnect()
	sub := conn.Subscribe(bus.Topic{"ups", "state"})

	r.ticks(1) // unclear -> running
	r.adc.SetRaw(types.ChannelBattery, rawWarn)
	r.ticks(1) // running -> warn

	var states []string
	for {
		select {
		case msg := <-sub.Channel():
			states = append(states, msg.Payload.(Status).State)
			continue
		default:
		}
		break
	}
	if len(states) != 2 || states[0] != "running" || states[1] != "warn" {
		t.Fatalf("published states %v", states)
	}
}

func TestButtonPressStartsShutdown(t *testing.T) {
	r := newRig(t)
	r.ticks(1) // settle into running

	r.core.PressButton()
	d := r.ticks(1)
	if len(d) != 1 || d[0] != types.DecideShutdown {
		t.Fatalf("button press decided %v", d)
	}
	if c := r.core.machine.Causes(); c != types.CauseButton {
		t.Fatalf("causes 0x%02x, want button only", uint8(c))
	}
}

func TestConfigSurvivesReboot(t *testing.T) {
	ee := sim.NewEEPROM(64)
	r := newRigWith(t, ee)
	r.core.store.Set(config.FieldWarnVoltage, 3550)

	r2 := newRigWith(t, ee)
	if got := r2.core.store.Get(config.FieldWarnVoltage); got != 3550 {
		t.Fatalf("warn voltage %d after reboot, want 3550", got)
	}
}
