// A self-contained demo: the firmware core on simulated hardware walks
// through a discharge and recovery while the bus traffic is printed.
// The real entry points live under cmd/.
package main

import (
	"fmt"

	"github.com/jbaumann/attiny-daemon/bus"
	"github.com/jbaumann/attiny-daemon/firmware"
	"github.com/jbaumann/attiny-daemon/sim"
	"github.com/jbaumann/attiny-daemon/types"
)

func main() {
	adc := sim.NewADC()
	b := bus.NewBus(64)

	hw := firmware.Hardware{
		ADC:       adc,
		SwitchPin: sim.NewPin(),
		LEDPin:    sim.NewPin(),
		EEPROM:    sim.NewEEPROM(64),
		Guard:     sim.NewGuard(),
		Diag:      sim.Diagnostics{Low: 0x62, High: 0xDF, Extended: 0xFF},
	}
	core, err := firmware.New(hw, b)
	if err != nil {
		panic(err)
	}
	conn := b.NewConnection("demo")
	defer conn.Disconnect()
	sub := conn.Subscribe(bus.Topic{"ups", "#"})

	// Scripted supply: healthy, sag into warn, drop below shutdown long
	// enough to confirm, then recover.
	script := []uint16{850, 850, 680, 640, 640, 640, 640, 850, 850, 850, 850}
	adc.SetRaw(types.ChannelExt, 1000)

	for tick, raw := range script {
		adc.SetRaw(types.ChannelBattery, raw)
		d := core.Tick()
		if d != types.DecideNone {
			fmt.Printf("tick %2d: raw %4d -> %s\n", tick, raw, d)
		}
	}

	for {
		select {
		case msg := <-sub.Channel():
			fmt.Printf("%-16s %v\n", msg.Topic, msg.Payload)
			continue
		default:
		}
		return
	}
}
