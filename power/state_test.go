package power

import (
	"testing"

	"github.com/jbaumann/attiny-daemon/config"
	"github.com/jbaumann/attiny-daemon/types"
)

func testRecord() config.Record {
	rec := config.Defaults()
	rec.ShutdownVoltage = 9000
	rec.WarnVoltage = 11000
	rec.RestartVoltage = 12000
	return rec
}

const extHealthy = 5000

// run feeds battery readings tick-by-tick with a healthy rail and returns
// every decision.
func run(m *Machine, rec config.Record, bat ...int16) []types.Decision {
	out := make([]types.Decision, 0, len(bat))
	for _, b := range bat {
		out = append(out, m.Tick(b, extHealthy, rec))
	}
	return out
}

func TestUnclearResolvesOnFirstTick(t *testing.T) {
	cases := []struct {
		bat  int16
		want types.Stable
	}{
		{12500, types.StableRunning},
		{11500, types.StableRunning}, // hysteresis band counts as healthy
		{10000, types.StableWarn},
		{8000, types.StableShutdown},
	}
	for _, c := range cases {
		m := NewMachine(nil)
		m.Tick(c.bat, extHealthy, testRecord())
		if got := m.State().Stable; got != c.want {
			t.Errorf("bat=%d: stable = %v, want %v", c.bat, got, c.want)
		}
		if !m.State().Settled() {
			t.Errorf("bat=%d: unclear must resolve without a transition", c.bat)
		}
	}
}

func TestEpisodeWalk(t *testing.T) {
	// The canonical discharge/recovery walk: Running, Warn, Shutdown,
	// recovery debounce, Running. Battery-low accumulates during the
	// episode and the mask clears only once Running is confirmed.
	m := NewMachine(nil)
	rec := testRecord()

	feed := []int16{12000, 10500, 8500, 8500, 12500, 12500, 12500, 12500, 12500, 12500}
	var stables []types.Stable
	last := types.Stable(0xFF)
	for _, b := range feed {
		m.Tick(b, extHealthy, rec)
		if s := m.State().Stable; s != last {
			stables = append(stables, s)
			last = s
		}
	}

	want := []types.Stable{
		types.StableRunning,
		types.StableWarn,
		types.StableShutdown,
		types.StableRunning,
	}
	if len(stables) != len(want) {
		t.Fatalf("stable sequence %v, want %v", stables, want)
	}
	for i := range want {
		if stables[i] != want[i] {
			t.Fatalf("stable sequence %v, want %v", stables, want)
		}
	}

	if got := m.Causes(); got != types.CauseNone {
		t.Fatalf("cause mask after recovery = %v, want none", got)
	}
}

func TestCauseAccumulatesDuringEpisode(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	run(m, rec, 12000, 10500) // Running -> Warn, episode starts
	if m.Causes() != types.CauseNone {
		t.Fatalf("warn without cause bits, got %v", m.Causes())
	}
	run(m, rec, 8500) // battery-low observed
	if !m.Causes().Has(types.CauseBatVoltage) {
		t.Fatalf("battery-low not recorded, mask %v", m.Causes())
	}
	// A momentary recovery shorter than the debounce must not clear it.
	run(m, rec, 12500)
	if !m.Causes().Has(types.CauseBatVoltage) {
		t.Fatalf("battery-low lost after transient recovery, mask %v", m.Causes())
	}
}

func TestHardCauseCompletesShutdown(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	// One shutdown-level reading, then recovery: the in-flight
	// warn_to_shutdown must still complete.
	run(m, rec, 12000, 10500, 8500, 8500, 12500, 12500)
	if got := m.State().Stable; got != types.StableShutdown {
		t.Fatalf("stable = %v, want shutdown (hard cause)", got)
	}
}

func TestSoftCauseDoesNotPinShutdownTransition(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()
	rec.VextOffIsShutdown = 1

	run(m, rec, 12500, 10000)      // running, then warn
	m.Tick(10000, 200, rec)        // rail loss starts warn_to_shutdown
	m.Tick(10000, extHealthy, rec) // rail back before the window ends

	if got := m.State(); got.Stable != types.StableWarn || !got.Settled() {
		t.Fatalf("state = %v, want settled warn after rail returns", got)
	}
}

func TestStableBitsExclusive(t *testing.T) {
	// Walk a noisy feed and verify at most one stable bit is ever set in
	// the wire encoding (transitional bits excluded).
	m := NewMachine(nil)
	rec := testRecord()
	feed := []int16{12000, 10000, 8500, 12500, 7000, 12500, 12500, 12500, 10500, 12500}
	stableMask := uint8(0x08 | 0x20 | 0x01) // warn | shutdown | unclear

	for i, b := range feed {
		m.Tick(b, extHealthy, rec)
		bits := m.State().Bits() & stableMask
		if bits&(bits-1) != 0 {
			t.Fatalf("tick %d: multiple stable bits set: %#x", i, bits)
		}
	}
}

func TestButtonForcesShutdownFromRunning(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	run(m, rec, 12500)
	m.Inject(types.CauseButton)
	run(m, rec, 12500) // voltage healthy

	if got := m.State().Stable; got != types.StableShutdown {
		t.Fatalf("stable = %v, want shutdown after button", got)
	}
	if got := m.Causes(); got != types.CauseButton {
		t.Fatalf("cause mask = %v, want button only", got)
	}
}

func TestHostCauseForcesImmediateWarnToShutdown(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	run(m, rec, 12500, 10500) // into Warn
	m.Inject(types.CauseHost)
	d := m.Tick(10500, extHealthy, rec)
	if d != types.DecideShutdown {
		t.Fatalf("decision = %v, want shutdown (no debounce for injected causes)", d)
	}
	if got := m.State().Stable; got != types.StableShutdown {
		t.Fatalf("stable = %v, want shutdown", got)
	}
}

func TestExtVoltageLossWarnsByDefault(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	m.Tick(12500, extHealthy, rec)
	m.Tick(12500, 200, rec) // rail gone, battery healthy

	if got := m.State().Stable; got != types.StableWarn {
		t.Fatalf("stable = %v, want warn on rail loss", got)
	}
	if !m.Causes().Has(types.CauseExtVoltage) {
		t.Fatalf("rail-loss cause missing, mask %v", m.Causes())
	}
}

func TestExtVoltageLossShutsDownWhenConfigured(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()
	rec.VextOffIsShutdown = 1

	m.Tick(12500, extHealthy, rec)
	d := m.Tick(12500, 200, rec)

	if d != types.DecideShutdown {
		t.Fatalf("decision = %v, want shutdown", d)
	}
	if got := m.State().Stable; got != types.StableShutdown {
		t.Fatalf("stable = %v, want shutdown", got)
	}
}

func TestRecoveryDebounceEmitsRestart(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	run(m, rec, 8000) // straight to shutdown from unclear
	var got types.Decision
	for i := 0; i <= int(DebounceTicks); i++ {
		got = m.Tick(12500, extHealthy, rec)
	}
	if got != types.DecideRestart {
		t.Fatalf("decision = %v, want restart after recovery debounce", got)
	}
	if s := m.State(); s.Stable != types.StableRunning || !s.Settled() {
		t.Fatalf("state = %v, want settled running", s)
	}
}

func TestTransientRecoveryDoesNotRestart(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	run(m, rec, 8000)              // shutdown
	m.Tick(12500, extHealthy, rec) // recovery begins
	m.Tick(12500, extHealthy, rec)
	d := m.Tick(10000, extHealthy, rec) // dips again before debounce ends

	if d != types.DecideNone {
		t.Fatalf("decision = %v, want none", d)
	}
	if got := m.State().Stable; got != types.StableShutdown {
		t.Fatalf("stable = %v, want still shutdown", got)
	}
}

func TestInvertedThresholdsDoNotCrash(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()
	rec.ShutdownVoltage = 12000
	rec.WarnVoltage = 11000
	rec.RestartVoltage = 9000 // nonsensical but accepted

	for _, b := range []int16{12500, 11500, 10000, 8000, 12500} {
		m.Tick(b, extHealthy, rec)
	}
	// No particular state is promised, only that evaluation stays sane.
	bits := m.State().Bits() & (0x08 | 0x20 | 0x01)
	if bits&(bits-1) != 0 {
		t.Fatalf("multiple stable bits set: %#x", bits)
	}
}

func TestImplausibleReadingIsNotACondition(t *testing.T) {
	m := NewMachine(nil)
	rec := testRecord()

	m.Tick(12500, extHealthy, rec)
	// Saturated battery sample: must not trigger shutdown or warn.
	m.Tick(-32768, extHealthy, rec)
	if got := m.State().Stable; got != types.StableRunning {
		t.Fatalf("stable = %v, want running after implausible sample", got)
	}
	// Saturated rail sample: must not count as rail loss.
	m.Tick(12500, -32768, rec)
	if m.Causes().Has(types.CauseExtVoltage) {
		t.Fatalf("rail-loss recorded from saturated sample")
	}
}

func TestPersistHookSeesUnion(t *testing.T) {
	var persisted types.Cause
	m := NewMachine(func(c types.Cause) { persisted = c })
	rec := testRecord()

	m.Tick(12500, extHealthy, rec) // running
	m.Tick(12500, 200, rec)        // rail loss opens the episode
	m.Tick(8000, extHealthy, rec)  // battery collapse joins it

	if !persisted.Has(types.CauseBatVoltage) || !persisted.Has(types.CauseExtVoltage) {
		t.Fatalf("persisted mask %v, want union of bat and ext causes", persisted)
	}
}
