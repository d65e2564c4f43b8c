//go:build !linux

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "attiny-mqtt needs linux i2c-dev")
	os.Exit(1)
}
