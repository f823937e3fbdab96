package sensors

import (
	"encoding/binary"
	"errors"
	"time"

	"fieldnode-go/drivers/aht20"
	"fieldnode-go/errcode"
	"fieldnode-go/types"
	"fieldnode-go/x/mathx"

	"github.com/jonboulle/clockwork"
)

// TypeClimate is the sensor type id of temperature/humidity modules.
const TypeClimate uint16 = 0x0101

func init() { RegisterBuilder("aht20", climateBuilder{}) }

type climateBuilder struct{}

func (climateBuilder) Build(in BuildInput) (Module, error) {
	if in.I2C == nil {
		return nil, errcode.New(errcode.InvalidParams, "sensors.aht20", "no i2c bus")
	}
	dev := aht20.New(in.I2C)
	if in.Addr != 0 {
		dev.Address = in.Addr
	}
	typ := in.TypeID
	if typ == 0 {
		typ = TypeClimate
	}
	return &Climate{dev: dev, clock: in.Clock, power: in.Power, typ: typ}, nil
}

// Climate is an AHT20 module. The payload is a little-endian
// {int16 deci-°C, uint16 deci-%RH} pair.
type Climate struct {
	dev   *aht20.Device
	clock clockwork.Clock
	power func(bool) error
	typ   uint16

	started time.Time
	sample  aht20.Sample
	ready   bool
}

func (c *Climate) Kind() string { return "aht20" }

func (c *Climate) SetPower(on bool) error {
	if c.power == nil {
		return nil
	}
	return c.power(on)
}

func (c *Climate) StartInit() error {
	if err := c.dev.StartInit(); err != nil {
		return errcode.Wrap(errcode.SensorBus, "aht20.init", err)
	}
	return nil
}

func (c *Climate) PollInit() types.Poll[types.SensorStatus] {
	ok, err := c.dev.Calibrated()
	switch {
	case err != nil:
		return types.PollFailed[types.SensorStatus](errcode.Wrap(errcode.SensorBus, "aht20.init", err))
	case ok:
		return types.PollReady(types.SensorDone)
	}
	return types.PollPending[types.SensorStatus]()
}

func (c *Climate) Start() error {
	c.ready = false
	if err := c.dev.Trigger(); err != nil {
		return errcode.Wrap(errcode.SensorBus, "aht20.trigger", err)
	}
	c.started = c.clock.Now()
	return nil
}

func (c *Climate) Poll() types.Poll[types.SensorStatus] {
	if c.ready {
		return types.PollReady(types.SensorDone)
	}
	if c.started.IsZero() {
		return types.PollReady(types.SensorNotAvailable)
	}
	if c.clock.Since(c.started) < aht20.ConversionTime {
		return types.PollPending[types.SensorStatus]()
	}
	err := c.dev.Collect(&c.sample)
	switch {
	case errors.Is(err, aht20.ErrNotReady):
		return types.PollPending[types.SensorStatus]()
	case err != nil:
		return types.PollFailed[types.SensorStatus](errcode.Wrap(errcode.SensorBus, "aht20.collect", err))
	}
	c.ready = true
	c.started = time.Time{}
	return types.PollReady(types.SensorDone)
}

func (c *Climate) Read(out *types.SensorResult) error {
	if !c.ready {
		return errcode.New(errcode.SensorBus, "aht20.read", "no sample")
	}
	v := types.ClimateValue{
		DeciC:  int16(mathx.Clamp(c.sample.DeciCelsius(), -32768, 32767)),
		DeciRH: uint16(mathx.Clamp(c.sample.DeciRelHumidity(), 0, 1000)),
	}
	out.TypeID = c.typ
	out.ProtocolID = ProtocolI2C
	out.SetPayload(AppendClimate(nil, v))
	return nil
}

// AppendClimate encodes v as a climate payload.
func AppendClimate(b []byte, v types.ClimateValue) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(v.DeciC))
	return binary.LittleEndian.AppendUint16(b, v.DeciRH)
}

// ParseClimate decodes a climate payload.
func ParseClimate(p []byte) (types.ClimateValue, bool) {
	if len(p) < 4 {
		return types.ClimateValue{}, false
	}
	return types.ClimateValue{
		DeciC:  int16(binary.LittleEndian.Uint16(p)),
		DeciRH: binary.LittleEndian.Uint16(p[2:]),
	}, true
}
