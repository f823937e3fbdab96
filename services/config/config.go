// Package config loads the node configuration: embedded per-device defaults
// overlaid with an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/services/dutycycle"
	"fieldnode-go/types"

	"gopkg.in/yaml.v3"
)

const configPrefix = "config"

// EmbeddedConfigLookup allows overriding how defaults are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

type Config struct {
	Device  string `yaml:"device"`
	Cycle   Cycle  `yaml:"cycle"`
	Slots   []Slot `yaml:"slots"`
	Store   Store  `yaml:"store"`
	Radio   Radio  `yaml:"radio"`
	Gauge   Gauge  `yaml:"gauge"`
	I2C     I2C    `yaml:"i2c"`
	Metrics string `yaml:"metrics"` // listen address, empty disables

	Heartbeat time.Duration `yaml:"heartbeat"` // status log period on hosts, 0 disables
}

type Cycle struct {
	Interval     time.Duration `yaml:"interval"`
	SleepFloor   time.Duration `yaml:"sleep_floor"`
	USBInterval  time.Duration `yaml:"usb_interval"`
	ForceSleep   bool          `yaml:"force_sleep"`
	GaugeEvery   uint8         `yaml:"gauge_every"`
	PollEvery    time.Duration `yaml:"poll_every"`
	JoinRetries  uint8         `yaml:"join_retries"`
	RejoinWindow time.Duration `yaml:"rejoin_window"`
	Policy       string        `yaml:"policy"` // equalized, burst, or empty for the build default

	Timeouts Timeouts `yaml:"timeouts"`
}

type Timeouts struct {
	SensorInit    time.Duration `yaml:"sensor_init"`
	SensorMeasure time.Duration `yaml:"sensor_measure"`
	GaugeInit     time.Duration `yaml:"gauge_init"`
	GaugeActive   time.Duration `yaml:"gauge_active"`
	Join          time.Duration `yaml:"join"`
	Send          time.Duration `yaml:"send"`
}

type Slot struct {
	Slot   int           `yaml:"slot"`
	Kind   string        `yaml:"kind"` // sensors builder name
	Addr   uint16        `yaml:"addr"`
	TypeID uint16        `yaml:"type_id"`
	Delay  time.Duration `yaml:"delay"`
}

type Store struct {
	FlashPath string `yaml:"flash_path"` // empty keeps the log in memory
	RegsPath  string `yaml:"regs_path"`
	Size      uint32 `yaml:"size"`       // whole device
	PageSize  uint32 `yaml:"page_size"`  // program unit
	BlockSize uint32 `yaml:"block_size"` // erase unit
	Base      uint32 `yaml:"base"`       // log region start
	Region    uint32 `yaml:"region"`     // log region length, 0 = rest of device
	Record    uint32 `yaml:"record"`     // bytes per record slot, 0 = page size
}

type Radio struct {
	Kind        string        `yaml:"kind"` // loopback or mqtt
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Topic       string        `yaml:"topic"`
	QoS         byte          `yaml:"qos"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type Gauge struct {
	Kind    string `yaml:"kind"` // sim or bq35100
	Address uint16 `yaml:"address"`
}

type I2C struct {
	Bus      string `yaml:"bus"` // periph bus name, empty for the first bus
	SpeedKHz uint32 `yaml:"speed_khz"`
}

// Load resolves the embedded defaults for device and overlays the file at
// path when path is set.
func Load(device, path string) (Config, error) {
	var c Config
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return c, errcode.New(errcode.NotFound, "config.load", "no embedded config for device: "+device)
	}
	if err := Parse(raw, &c); err != nil {
		return c, fmt.Errorf("embedded config %s: %w", device, err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := Parse(b, &c); err != nil {
			return c, fmt.Errorf("%s: %w", path, err)
		}
	}
	if c.Device == "" {
		c.Device = device
	}
	c.Normalize()
	return c, c.Validate()
}

// Parse decodes YAML into c, keeping fields the document does not set.
// Unknown keys are rejected.
func Parse(raw []byte, c *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Normalize fills zero values.
func (c *Config) Normalize() {
	if c.Cycle.SleepFloor <= 0 {
		c.Cycle.SleepFloor = dutycycle.MinSleep
	}
	if c.Store.PageSize == 0 {
		c.Store.PageSize = 256
	}
	if c.Store.BlockSize == 0 {
		c.Store.BlockSize = 4096
	}
	if c.Store.Size == 0 {
		c.Store.Size = 64 * c.Store.BlockSize
	}
	if c.Store.Region == 0 && c.Store.Base < c.Store.Size {
		c.Store.Region = c.Store.Size - c.Store.Base
	}
	if c.Store.Record == 0 {
		c.Store.Record = c.Store.PageSize
	}
	if c.Radio.Kind == "" {
		c.Radio.Kind = "loopback"
	}
	if c.Radio.ClientID == "" {
		c.Radio.ClientID = "fieldnode-" + c.Device
	}
	if c.Radio.Topic == "" {
		c.Radio.Topic = "fieldnode/" + c.Device + "/up"
	}
	if c.Gauge.Kind == "" {
		c.Gauge.Kind = "sim"
	}
}

// Validate rejects configurations the node cannot run.
func (c Config) Validate() error {
	bad := func(msg string, args ...any) error {
		return errcode.New(errcode.InvalidParams, "config", fmt.Sprintf(msg, args...))
	}
	s := c.Store
	switch {
	case s.PageSize == 0 || s.BlockSize%s.PageSize != 0:
		return bad("page size %d does not divide block size %d", s.PageSize, s.BlockSize)
	case s.Size%s.BlockSize != 0:
		return bad("flash size %d is not a multiple of block size %d", s.Size, s.BlockSize)
	case s.Base%s.BlockSize != 0 || s.Region%s.BlockSize != 0:
		return bad("log region %d+%d is not block aligned", s.Base, s.Region)
	case s.Base+s.Region > s.Size:
		return bad("log region %d+%d exceeds flash size %d", s.Base, s.Region, s.Size)
	case s.Record < s.PageSize || s.Record%s.PageSize != 0 || s.BlockSize%s.Record != 0:
		return bad("record size %d must be a page multiple dividing the block", s.Record)
	}

	if c.Cycle.Interval != 0 && c.Cycle.Interval < c.Cycle.SleepFloor {
		return bad("interval %s below sleep floor %s", c.Cycle.Interval, c.Cycle.SleepFloor)
	}
	if _, err := PolicyByName(c.Cycle.Policy); err != nil {
		return err
	}

	if len(c.Slots) > types.MaxSlots {
		return bad("%d slots configured, at most %d", len(c.Slots), types.MaxSlots)
	}
	var seen [types.MaxSlots]bool
	for _, sl := range c.Slots {
		if sl.Slot < 0 || sl.Slot >= types.MaxSlots {
			return bad("slot %d out of range", sl.Slot)
		}
		if seen[sl.Slot] {
			return bad("slot %d configured twice", sl.Slot)
		}
		seen[sl.Slot] = true
		if sl.Kind == "" {
			return bad("slot %d has no kind", sl.Slot)
		}
	}

	switch c.Radio.Kind {
	case "loopback":
	case "mqtt":
		if c.Radio.Broker == "" {
			return bad("mqtt radio needs a broker")
		}
		if c.Radio.QoS > 2 {
			return bad("mqtt qos %d", c.Radio.QoS)
		}
	default:
		return bad("unknown radio kind %q", c.Radio.Kind)
	}
	switch c.Gauge.Kind {
	case "sim", "bq35100":
	default:
		return bad("unknown gauge kind %q", c.Gauge.Kind)
	}
	return nil
}

// PolicyByName maps a policy name to its function; "" is the build default.
func PolicyByName(name string) (dutycycle.Policy, error) {
	if name == "" {
		name = dutycycle.DefaultPolicyName
	}
	switch name {
	case "equalized":
		return dutycycle.Equalized, nil
	case "burst":
		return dutycycle.Burst, nil
	}
	return nil, errcode.New(errcode.InvalidParams, "config", "unknown policy "+name)
}

// DutyCycle converts the cycle section to the controller's configuration.
func (c Config) DutyCycle() dutycycle.Config {
	p, _ := PolicyByName(c.Cycle.Policy)
	t := c.Cycle.Timeouts
	return dutycycle.Config{
		Interval:             c.Cycle.Interval,
		SleepFloor:           c.Cycle.SleepFloor,
		USBInterval:          c.Cycle.USBInterval,
		ForceSleep:           c.Cycle.ForceSleep,
		GaugeEvery:           c.Cycle.GaugeEvery,
		PollEvery:            c.Cycle.PollEvery,
		SensorInitTimeout:    t.SensorInit,
		SensorMeasureTimeout: t.SensorMeasure,
		GaugeInitTimeout:     t.GaugeInit,
		GaugeActiveTimeout:   t.GaugeActive,
		JoinTimeout:          t.Join,
		SendTimeout:          t.Send,
		JoinRetries:          c.Cycle.JoinRetries,
		RejoinWindow:         c.Cycle.RejoinWindow,
		Policy:               p,
	}
}

// Publish puts each section on the bus as a retained config/<section>
// message.
func (c Config) Publish(conn *bus.Connection) {
	sections := map[string]any{
		"device":    c.Device,
		"cycle":     c.Cycle,
		"slots":     c.Slots,
		"store":     c.Store,
		"radio":     c.Radio,
		"gauge":     c.Gauge,
		"i2c":       c.I2C,
		"metrics":   c.Metrics,
		"heartbeat": c.Heartbeat,
	}
	for k, v := range sections {
		conn.Publish(&bus.Message{Topic: bus.T(configPrefix, k), Payload: v, Retained: true})
	}
}
