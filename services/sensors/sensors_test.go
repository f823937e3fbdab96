package sensors

import (
	"testing"
	"time"

	"fieldnode-go/errcode"
	"fieldnode-go/types"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeAHT20 answers status and data reads for a calibrated part whose
// conversion completes on the first data read.
type fakeAHT20 struct {
	triggers int
	fail     error
}

func (f *fakeAHT20) Tx(addr uint16, w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	if len(w) == 3 && w[0] == 0xAC {
		f.triggers++
		return nil
	}
	if len(r) == 1 {
		r[0] = 0x08
		return nil
	}
	if len(r) == 7 {
		h, t := uint32(576_717), uint32(393_216) // 55.0 %RH, 25.0 °C
		r[0] = 0x08
		r[1] = byte(h >> 12)
		r[2] = byte(h >> 4)
		r[3] = byte((h&0xF)<<4) | byte((t>>16)&0x0F)
		r[4] = byte(t >> 8)
		r[5] = byte(t)
		r[6] = crc(r[:6])
	}
	return nil
}

func crc(p []byte) byte {
	c := byte(0xFF)
	for _, b := range p {
		c ^= b
		for i := 0; i < 8; i++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x31
			} else {
				c <<= 1
			}
		}
	}
	return c
}

func TestEmptySlots(t *testing.T) {
	b := NewBus()
	require.False(t, b.Present(0))
	require.False(t, b.Present(-1))
	require.False(t, b.Present(types.MaxSlots))
	require.ErrorIs(t, b.StartMeasurement(2), errcode.NotFound)
	require.Equal(t, types.SensorNotAvailable, b.PollStatus(2).Value)
	_, err := b.ReadResult(2)
	require.ErrorIs(t, err, errcode.NotFound)
}

func TestAttachValidation(t *testing.T) {
	b := NewBus()
	clk := clockwork.NewFakeClock()
	require.ErrorIs(t, b.Attach(types.MaxSlots, NewSim(clk, TypeSim, 0)), errcode.OutOfRange)
	require.ErrorIs(t, b.Attach(0, nil), errcode.InvalidParams)
	require.NoError(t, b.Attach(0, NewSim(clk, TypeSim, 0)))
	require.ErrorIs(t, b.Attach(0, NewSim(clk, TypeSim, 0)), errcode.Busy)
	b.Detach(0)
	require.False(t, b.Present(0))
}

func TestSimMeasurement(t *testing.T) {
	clk := clockwork.NewFakeClock()
	b := NewBus()
	m, err := Build(BuildInput{Params: Params{Slot: 1, Kind: "sim", Delay: time.Second}, Clock: clk})
	require.NoError(t, err)
	require.NoError(t, b.Attach(1, m))

	require.ErrorIs(t, b.StartInit(1), errcode.Unsupported)
	require.Error(t, b.StartMeasurement(1), "unpowered module must refuse")
	require.NoError(t, b.SetPower(1, true))
	require.NoError(t, b.StartMeasurement(1))
	require.Equal(t, types.Pending, b.PollStatus(1).State)

	clk.Advance(time.Second)
	p := b.PollStatus(1)
	require.Equal(t, types.Ready, p.State)
	require.Equal(t, types.SensorDone, p.Value)

	r, err := b.ReadResult(1)
	require.NoError(t, err)
	require.Equal(t, TypeSim, r.TypeID)
	require.Equal(t, ProtocolSim, r.ProtocolID)
	v, ok := ParseClimate(r.Payload())
	require.True(t, ok)
	require.Equal(t, int16(201), v.DeciC)

	_, err = b.ReadResult(1)
	require.ErrorIs(t, err, errcode.SensorBus, "a sample is read once")
}

func TestClimateModule(t *testing.T) {
	clk := clockwork.NewFakeClock()
	bus := &fakeAHT20{}
	m, err := Build(BuildInput{Params: Params{Kind: "aht20"}, I2C: bus, Clock: clk})
	require.NoError(t, err)

	require.NoError(t, m.StartInit())
	require.Equal(t, types.PollReady(types.SensorDone), m.PollInit())

	require.NoError(t, m.Start())
	require.Equal(t, 1, bus.triggers)
	require.Equal(t, types.Pending, m.Poll().State, "conversion time not yet elapsed")

	clk.Advance(100 * time.Millisecond)
	require.Equal(t, types.SensorDone, m.Poll().Value)

	var r types.SensorResult
	require.NoError(t, m.Read(&r))
	require.Equal(t, TypeClimate, r.TypeID)
	v, ok := ParseClimate(r.Payload())
	require.True(t, ok)
	require.Equal(t, types.ClimateValue{DeciC: 250, DeciRH: 550}, v)
}

func TestClimateNeedsBus(t *testing.T) {
	_, err := Build(BuildInput{Params: Params{Kind: "aht20"}})
	require.ErrorIs(t, err, errcode.InvalidParams)
	_, err = Build(BuildInput{Params: Params{Kind: "sht99"}})
	require.ErrorIs(t, err, errcode.Unsupported)
}

func TestClimatePayloadRoundTrip(t *testing.T) {
	v := types.ClimateValue{DeciC: -105, DeciRH: 999}
	got, ok := ParseClimate(AppendClimate(nil, v))
	require.True(t, ok)
	require.Equal(t, v, got)
	_, ok = ParseClimate([]byte{1, 2})
	require.False(t, ok)
}
