// Command attinyctl is an interactive console for the UPS controller:
// telemetry, configuration and actions over I2C, or against an
// in-process simulated controller with -sim.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	"github.com/jbaumann/attiny-daemon/bus"
	"github.com/jbaumann/attiny-daemon/firmware"
	"github.com/jbaumann/attiny-daemon/hostclient"
	"github.com/jbaumann/attiny-daemon/sim"
	"github.com/jbaumann/attiny-daemon/types"
)

func main() {
	dev := flag.String("dev", "/dev/i2c-1", "i2c-dev device")
	useSim := flag.Bool("sim", false, "talk to an in-process simulated controller")
	flag.Parse()

	console, err := newConsole(*dev, *useSim)
	if err != nil {
		fmt.Fprintln(os.Stderr, "attinyctl:", err)
		os.Exit(1)
	}
	defer console.close()

	if err := console.run(); err != nil {
		fmt.Fprintln(os.Stderr, "attinyctl:", err)
		os.Exit(1)
	}
}

type console struct {
	client *hostclient.Client
	closer io.Closer

	// set only with -sim
	adc  *sim.ADC
	core *firmware.Core
	stop func()
}

func newConsole(dev string, useSim bool) (*console, error) {
	if !useSim {
		b, closer, err := openBus(dev)
		if err != nil {
			return nil, err
		}
		c := hostclient.New(b)
		if err := c.Probe(); err != nil {
			closer.Close()
			return nil, fmt.Errorf("probe %s: %w", dev, err)
		}
		return &console{client: c, closer: closer}, nil
	}

	adc := sim.NewADC()
	adc.SetRaw(types.ChannelBattery, 850)
	adc.SetRaw(types.ChannelExt, 1000)
	hw := firmware.Hardware{
		ADC:       adc,
		SwitchPin: sim.NewPin(),
		LEDPin:    sim.NewPin(),
		EEPROM:    sim.NewEEPROM(64),
		Guard:     sim.NewGuard(),
		Diag:      sim.Diagnostics{Low: 0x62, High: 0xDF, Extended: 0xFF},
	}
	core, err := firmware.New(hw, bus.NewBus(32))
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				core.Tick()
			}
		}
	}()

	return &console{
		client: hostclient.New(core.Target()),
		adc:    adc,
		core:   core,
		stop:   func() { close(done) },
	}, nil
}

func (c *console) close() {
	if c.stop != nil {
		c.stop()
	}
	if c.closer != nil {
		c.closer.Close()
	}
}

func (c *console) run() error {
	rl, err := readline.New("attiny> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil { // io.EOF on ^D
			return nil
		}
		args, err := shlex.Split(line)
		if err != nil {
			fmt.Println("parse:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		if err := c.dispatch(args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func (c *console) dispatch(args []string) error {
	switch args[0] {
	case "help":
		fmt.Print(helpText)
		return nil
	case "version":
		major, minor, patch, err := c.client.Version()
		if err != nil {
			return err
		}
		fmt.Printf("firmware %d.%d.%d\n", major, minor, patch)
		return nil
	case "status":
		return c.status()
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <name>")
		}
		return c.get(args[1])
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <name> <value>")
		}
		return c.set(args[1], args[2])
	case "primed":
		if len(args) != 2 {
			return fmt.Errorf("usage: primed on|off")
		}
		return c.client.SetPrimed(args[1] == "on")
	case "shutdown":
		return c.client.ForceShutdown()
	case "init-eeprom":
		return c.client.InitEEPROM()
	case "watch":
		return c.watch()
	case "sim":
		return c.simCmd(args[1:])
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func (c *console) status() error {
	bat, err := c.client.BatVoltage()
	if err != nil {
		return err
	}
	ext, _ := c.client.ExtVoltage()
	temp, _ := c.client.Temperature()
	state, _ := c.client.InternalState()
	mask, _ := c.client.ShouldShutdown()
	uptime, _ := c.client.Uptime()

	fmt.Printf("battery  %5d mV\n", bat)
	fmt.Printf("external %5d mV\n", ext)
	fmt.Printf("temp     %5d\n", temp)
	fmt.Printf("state    0x%02x\n", state)
	fmt.Printf("causes   %s\n", mask)
	fmt.Printf("uptime   %d s\n", uptime)
	return nil
}

func (c *console) get(name string) error {
	switch name {
	case "timeout":
		v, err := c.client.Timeout()
		if err != nil {
			return err
		}
		fmt.Println(v)
	case "restart", "warn", "shutdown":
		v, err := c.threshold(name)
		if err != nil {
			return err
		}
		fmt.Printf("%d mV\n", v)
	case "primed":
		v, err := c.client.Primed()
		if err != nil {
			return err
		}
		fmt.Println(v)
	case "ups-config":
		v, err := c.client.UPSConfig()
		if err != nil {
			return err
		}
		fmt.Printf("0x%02x\n", uint8(v))
	case "last-cause":
		v, err := c.client.LastShutdownCause()
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		return fmt.Errorf("unknown name %q", name)
	}
	return nil
}

func (c *console) threshold(name string) (uint16, error) {
	switch name {
	case "restart":
		return c.client.RestartVoltage()
	case "warn":
		return c.client.WarnVoltage()
	default:
		return c.client.ShutdownVoltage()
	}
}

func (c *console) set(name, raw string) error {
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return err
	}
	switch name {
	case "timeout":
		return c.client.SetTimeout(uint8(v))
	case "restart":
		return c.client.SetRestartVoltage(uint16(v))
	case "warn":
		return c.client.SetWarnVoltage(uint16(v))
	case "shutdown":
		return c.client.SetShutdownVoltage(uint16(v))
	case "ups-config":
		return c.client.SetUPSConfig(types.UPSConfig(v))
	default:
		return fmt.Errorf("unknown name %q", name)
	}
}

// watch polls the controller once a second until interrupted by input.
func (c *console) watch() error {
	for i := 0; i < 30; i++ {
		bat, err := c.client.BatVoltage()
		if err != nil {
			return err
		}
		mask, _ := c.client.ShouldShutdown()
		fmt.Printf("%s  bat %5d mV  causes %s\n",
			time.Now().Format("15:04:05"), bat, mask)
		if mask != types.CauseNone {
			return nil
		}
		time.Sleep(time.Second)
	}
	return nil
}

// simCmd adjusts the simulated supply, e.g. "sim bat 640".
func (c *console) simCmd(args []string) error {
	if c.adc == nil {
		return fmt.Errorf("not running with -sim")
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: sim bat|ext <raw-counts>")
	}
	v, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return err
	}
	switch strings.ToLower(args[0]) {
	case "bat":
		c.adc.SetRaw(types.ChannelBattery, uint16(v))
	case "ext":
		c.adc.SetRaw(types.ChannelExt, uint16(v))
	default:
		return fmt.Errorf("unknown channel %q", args[0])
	}
	return nil
}

const helpText = `commands:
  status                 show telemetry and state
  version                firmware version
  get <name>             timeout|restart|warn|shutdown|primed|ups-config|last-cause
  set <name> <value>     write a configuration value
  primed on|off          arm or disarm the host watchdog
  shutdown               request a shutdown episode
  init-eeprom            reset configuration to firmware defaults
  watch                  poll telemetry until a shutdown is requested
  sim bat|ext <counts>   adjust the simulated supply (-sim only)
  exit
`
