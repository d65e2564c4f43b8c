package regproto

import (
	"github.com/jbaumann/attiny-daemon/errcode"
)

// Target adapts a Handler to the drivers.I2C Tx shape so host-side code
// can run against an in-process firmware instead of a physical bus.
type Target struct {
	h *Handler
}

func NewTarget(h *Handler) *Target { return &Target{h: h} }

// Tx performs a write-then-read transaction. Write errors are swallowed
// the way a real slave swallows a bad frame: the master only notices via
// read-back.
func (t *Target) Tx(addr uint16, w, r []byte) error {
	if addr != Address {
		return errcode.WrongAddress
	}
	if len(w) > 0 {
		_ = t.h.Receive(w)
	}
	if len(r) > 0 {
		frame := t.h.Request()
		n := copy(r, frame)
		for i := n; i < len(r); i++ {
			r[i] = 0
		}
	}
	return nil
}
