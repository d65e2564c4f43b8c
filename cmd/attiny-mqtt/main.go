//go:build linux

// Command attiny-mqtt is the host-side daemon: it keeps the controller's
// watchdog fed, mirrors telemetry to MQTT and shuts the host down when
// the controller asks. Configuration comes from the environment (a .env
// file is honored if present).
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"

	"github.com/jbaumann/attiny-daemon/hostbus"
	"github.com/jbaumann/attiny-daemon/hostclient"
	"github.com/jbaumann/attiny-daemon/types"
)

type settings struct {
	dev         string
	broker      string
	clientID    string
	prefix      string
	username    string
	password    string
	interval    time.Duration
	timeout     uint8
	shutdownCmd string
}

func load() settings {
	_ = godotenv.Load()

	s := settings{
		dev:         envOr("ATTINY_DEV", "/dev/i2c-1"),
		broker:      envOr("MQTT_BROKER", "tcp://localhost:1883"),
		clientID:    envOr("MQTT_CLIENT_ID", "attiny-daemon"),
		prefix:      envOr("MQTT_TOPIC_PREFIX", "ups"),
		username:    os.Getenv("MQTT_USERNAME"),
		password:    os.Getenv("MQTT_PASSWORD"),
		interval:    10 * time.Second,
		timeout:     120,
		shutdownCmd: envOr("ATTINY_SHUTDOWN_CMD", "/sbin/shutdown -h now"),
	}
	if v, err := strconv.Atoi(os.Getenv("ATTINY_INTERVAL")); err == nil && v > 0 {
		s.interval = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("ATTINY_TIMEOUT")); err == nil && v > 0 && v < 256 {
		s.timeout = uint8(v)
	}
	return s
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type telemetry struct {
	Battery     int16  `json:"battery_mv"`
	Ext         int16  `json:"ext_mv"`
	Temperature int16  `json:"temperature"`
	State       uint8  `json:"state"`
	Causes      uint8  `json:"causes"`
	Uptime      uint32 `json:"uptime_s"`
}

func main() {
	s := load()

	bus, err := hostbus.Open(s.dev)
	if err != nil {
		log.Fatalf("open %s: %v", s.dev, err)
	}
	defer bus.Close()

	client := hostclient.New(bus)
	if err := client.Probe(); err != nil {
		log.Fatalf("probe %s: %v", s.dev, err)
	}
	major, minor, patch, _ := client.Version()
	log.Printf("controller firmware %d.%d.%d on %s", major, minor, patch, s.dev)

	opts := mqtt.NewClientOptions().
		AddBroker(s.broker).
		SetClientID(s.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if s.username != "" {
		opts.SetUsername(s.username).SetPassword(s.password)
	}
	mq := mqtt.NewClient(opts)
	if tok := mq.Connect(); tok.Wait() && tok.Error() != nil {
		log.Fatalf("mqtt connect: %v", tok.Error())
	}
	defer mq.Disconnect(250)

	// Arm the watchdog: if this daemon dies, the controller power-cycles
	// the host after the timeout.
	if err := client.SetTimeout(s.timeout); err != nil {
		log.Fatalf("set timeout: %v", err)
	}
	if err := client.SetPrimed(true); err != nil {
		log.Fatalf("prime: %v", err)
	}
	log.Printf("watchdog armed, %d s window, polling every %s", s.timeout, s.interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-sig:
			log.Print("disarming watchdog and exiting")
			if err := client.SetPrimed(false); err != nil {
				log.Printf("disarm: %v", err)
			}
			return
		case <-tick.C:
			if err := poll(client, mq, s); err != nil {
				log.Printf("poll: %v", err)
			}
		}
	}
}

// poll feeds the watchdog, publishes telemetry and reacts to a pending
// shutdown request.
func poll(client *hostclient.Client, mq mqtt.Client, s settings) error {
	// The primed write doubles as the heartbeat.
	if err := client.SetPrimed(true); err != nil {
		return err
	}

	var t telemetry
	var err error
	if t.Battery, err = client.BatVoltage(); err != nil {
		return err
	}
	t.Ext, _ = client.ExtVoltage()
	t.Temperature, _ = client.Temperature()
	t.State, _ = client.InternalState()
	t.Uptime, _ = client.Uptime()

	mask, err := client.ShouldShutdown()
	if err != nil {
		return err
	}
	t.Causes = uint8(mask)

	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	mq.Publish(s.prefix+"/telemetry", 0, true, payload)

	if mask != types.CauseNone {
		log.Printf("controller requests shutdown, causes %s", mask)
		mq.Publish(s.prefix+"/shutdown", 1, true, []byte(mask.String()))
		return shutdownHost(s.shutdownCmd)
	}
	return nil
}

func shutdownHost(cmdline string) error {
	if cmdline == "" {
		return fmt.Errorf("no shutdown command configured")
	}
	log.Printf("running %q", cmdline)
	cmd := exec.Command("/bin/sh", "-c", cmdline)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
