// Package watchdog converts host silence into a shutdown request. A live
// host refreshes the primed register; when the refreshes stop for longer
// than the configured window the firmware treats it like a host-initiated
// shutdown, so a hung host still gets power-cycled cleanly.
package watchdog

// Watchdog counts ticks since the last primed refresh. It is armed only
// while the host keeps the primed flag set; after firing, the firmware
// clears primed, which disarms the timer until the host checks in again.
type Watchdog struct {
	elapsed uint16
}

func New() *Watchdog { return &Watchdog{} }

// Feed resets the window. Called on every host write of the primed
// register.
func (w *Watchdog) Feed() { w.elapsed = 0 }

// Tick advances the timer by one measurement tick and reports whether the
// window expired. timeout==0 disables the watchdog entirely.
func (w *Watchdog) Tick(timeout uint8, primed bool) bool {
	if timeout == 0 || !primed {
		w.elapsed = 0
		return false
	}
	w.elapsed++
	if w.elapsed > uint16(timeout) {
		w.elapsed = 0
		return true
	}
	return false
}
