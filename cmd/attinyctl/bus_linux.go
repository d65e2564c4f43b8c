//go:build linux

package main

import (
	"io"

	"tinygo.org/x/drivers"

	"github.com/jbaumann/attiny-daemon/hostbus"
)

func openBus(dev string) (drivers.I2C, io.Closer, error) {
	b, err := hostbus.Open(dev)
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}
