//go:build linux

// Package hostbus opens a Linux i2c-dev character device and exposes it
// through the same Tx shape the rest of the host tooling uses, so a real
// controller and the in-process simulation are interchangeable.
package hostbus

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// i2c-dev ioctl: select the slave the next read/write talks to.
const i2cSlave = 0x0703

// Bus is one open /dev/i2c-N device.
type Bus struct {
	f *os.File
}

// Open opens a device such as /dev/i2c-1.
func Open(dev string) (*Bus, error) {
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Bus{f: f}, nil
}

// Tx selects addr, writes w if nonempty, then fills r if nonempty. This
// matches how the kernel's i2c-dev splits a combined transaction when
// plain read/write calls are used.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if err := unix.IoctlSetInt(int(b.f.Fd()), i2cSlave, int(addr)); err != nil {
		return err
	}
	if len(w) > 0 {
		if _, err := b.f.Write(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := io.ReadFull(b.f, r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) Close() error { return b.f.Close() }
