//go:build !linux

package main

import (
	"fmt"
	"io"

	"tinygo.org/x/drivers"
)

func openBus(dev string) (drivers.I2C, io.Closer, error) {
	return nil, nil, fmt.Errorf("i2c-dev is linux-only; use -sim on %q", dev)
}
