// Package sim provides in-memory implementations of the hardware
// capabilities (ADC, GPIO, EEPROM, interrupt guard, diagnostics) for host
// builds and tests. An MCU target supplies its own implementations of the
// same interfaces.
package sim

import (
	"sync"

	"github.com/jbaumann/attiny-daemon/types"
)

// -----------------------------------------------------------------------------
// ADC
// -----------------------------------------------------------------------------

// ADC returns a settable raw count per channel, so tests and the host
// simulation can script supply-voltage scenarios.
type ADC struct {
	mu  sync.Mutex
	raw [types.NumChannels]uint16
}

func NewADC() *ADC { return &ADC{} }

func (a *ADC) SetRaw(ch types.Channel, v uint16) {
	a.mu.Lock()
	a.raw[ch] = v
	a.mu.Unlock()
}

func (a *ADC) ReadRaw(ch types.Channel) uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(ch) >= len(a.raw) {
		return 0
	}
	return a.raw[ch]
}

// -----------------------------------------------------------------------------
// GPIO
// -----------------------------------------------------------------------------

// Pin records every level change so tests can assert pulse patterns.
type Pin struct {
	mu     sync.Mutex
	level  bool
	writes []bool
}

func NewPin() *Pin { return &Pin{level: true} }

func (p *Pin) ConfigureOutput(level bool) error {
	p.Set(level)
	return nil
}

func (p *Pin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.writes = append(p.writes, level)
	p.mu.Unlock()
}

func (p *Pin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns the recorded level changes, oldest first.
func (p *Pin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.writes))
	copy(out, p.writes)
	return out
}

func (p *Pin) ResetLog() {
	p.mu.Lock()
	p.writes = nil
	p.mu.Unlock()
}

// -----------------------------------------------------------------------------
// EEPROM
// -----------------------------------------------------------------------------

// EEPROM is a byte array that starts erased (0xFF), like the real part.
type EEPROM struct {
	mu   sync.Mutex
	data []byte
}

func NewEEPROM(size int) *EEPROM {
	e := &EEPROM{data: make([]byte, size)}
	for i := range e.data {
		e.data[i] = 0xFF
	}
	return e
}

func (e *EEPROM) ReadByte(addr int) byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr < 0 || addr >= len(e.data) {
		return 0xFF
	}
	return e.data[addr]
}

func (e *EEPROM) WriteByte(addr int, b byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr < 0 || addr >= len(e.data) {
		return
	}
	e.data[addr] = b
}

func (e *EEPROM) Size() int { return len(e.data) }

// Corrupt flips the byte at addr, simulating an interrupted write.
func (e *EEPROM) Corrupt(addr int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr >= 0 && addr < len(e.data) {
		e.data[addr] ^= 0xA5
	}
}

// -----------------------------------------------------------------------------
// Guard
// -----------------------------------------------------------------------------

// Guard implements the critical-section capability with a mutex. On the
// MCU the same interface briefly masks interrupts instead.
type Guard struct {
	mu sync.Mutex
}

func NewGuard() *Guard { return &Guard{} }

func (g *Guard) Do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

// Diagnostics reports fixed identification bytes.
type Diagnostics struct {
	Low, High, Extended, Status byte
}

func (d Diagnostics) FuseLow() byte      { return d.Low }
func (d Diagnostics) FuseHigh() byte     { return d.High }
func (d Diagnostics) FuseExtended() byte { return d.Extended }
func (d Diagnostics) MCUStatus() byte    { return d.Status }
