package ltr390

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tx struct {
	addr uint16
	w    []byte
	read int
}

// mockBus answers reads from a register map and records every transaction.
type mockBus struct {
	regs map[byte]byte
	txs  []tx
	err  error
}

func newMockBus() *mockBus {
	return &mockBus{regs: map[byte]byte{RegPartID: PartID}}
}

func (b *mockBus) Tx(addr uint16, w, r []byte) error {
	b.txs = append(b.txs, tx{addr: addr, w: append([]byte(nil), w...), read: len(r)})
	if b.err != nil {
		return b.err
	}
	if len(r) > 0 {
		r[0] = b.regs[w[0]]
	}
	return nil
}

func (b *mockBus) writes() [][]byte {
	var out [][]byte
	for _, t := range b.txs {
		if t.read == 0 {
			out = append(out, t.w)
		}
	}
	return out
}

func newTestDevice(bus Bus) *LTR390 {
	return New(bus, DefaultAddress, ModeUVS, Resolution18Bit, Rate100ms, Gain3)
}

func TestNewDoesNoIO(t *testing.T) {
	bus := newMockBus()
	d := New(bus, 0, ModeALS, Resolution20Bit, Rate25ms, Gain18)
	assert.Empty(t, bus.txs)
	assert.Equal(t, DefaultAddress, d.Address)
	assert.Equal(t, Gain18, d.Gain)
}

func TestReadRegisterUsesSingleWriteThenRead(t *testing.T) {
	bus := newMockBus()
	d := newTestDevice(bus)

	id, err := d.ReadRegister(RegPartID)
	require.NoError(t, err)
	assert.Equal(t, PartID, id)
	require.Len(t, bus.txs, 1)
	assert.Equal(t, tx{addr: 0x53, w: []byte{RegPartID}, read: 1}, bus.txs[0])
}

func TestInitialize(t *testing.T) {
	bus := newMockBus()
	d := newTestDevice(bus)

	require.NoError(t, d.Initialize())
	assert.Equal(t, [][]byte{
		{RegMainCtrl, CommandUVS},
		{RegMeasRate, 0x22},
		{RegGain, byte(Gain3)},
	}, bus.writes())
}

func TestInitializeIdentityMismatch(t *testing.T) {
	for _, id := range []byte{0x00, 0xFF, 0xB1} {
		bus := newMockBus()
		bus.regs[RegPartID] = id
		d := newTestDevice(bus)

		err := d.Initialize()
		assert.True(t, errors.Is(err, ErrIdentityMismatch), "id %#02x", id)
		assert.Empty(t, bus.writes())
		assert.Len(t, bus.txs, 1)
		assert.Equal(t, Gain3, d.Gain)
		assert.Equal(t, ModeUVS, d.Mode)
	}
}

func TestInitializeTransportFailure(t *testing.T) {
	bus := newMockBus()
	bus.err = errors.New("remote I/O error")
	d := newTestDevice(bus)

	err := d.Initialize()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIdentityMismatch))
	assert.True(t, errors.Is(err, bus.err))
	assert.Len(t, bus.txs, 1)
}

func TestSetModeIsGuarded(t *testing.T) {
	bus := newMockBus()
	d := newTestDevice(bus)

	require.NoError(t, d.SetMode(ModeALS))
	require.NoError(t, d.SetMode(ModeALS))
	assert.Equal(t, [][]byte{{RegMainCtrl, CommandALS}}, bus.writes())
	assert.Equal(t, ModeALS, d.Mode)

	require.NoError(t, d.SetMode(ModeUVS))
	assert.Equal(t, [][]byte{{RegMainCtrl, CommandALS}, {RegMainCtrl, CommandUVS}}, bus.writes())
}

func TestSetModeFailureKeepsTrackedMode(t *testing.T) {
	bus := newMockBus()
	bus.err = errors.New("nack")
	d := newTestDevice(bus)

	assert.Error(t, d.SetMode(ModeALS))
	assert.Equal(t, ModeUVS, d.Mode)
}

func TestSetGainRoundTrip(t *testing.T) {
	for _, g := range Gains {
		bus := newMockBus()
		d := newTestDevice(bus)
		require.NoError(t, d.SetGain(g))
		assert.Equal(t, g, d.Gain)
		assert.Equal(t, [][]byte{{RegGain, byte(g)}}, bus.writes())
	}
}

func TestSetResolutionAndRate(t *testing.T) {
	bus := newMockBus()
	d := newTestDevice(bus)

	require.NoError(t, d.SetResolutionAndRate(Resolution13Bit, Rate2000ms))
	assert.Equal(t, Resolution13Bit, d.Resolution)
	assert.Equal(t, Rate2000ms, d.Rate)
	assert.Equal(t, [][]byte{{RegMeasRate, 0x56}}, bus.writes())
}

func TestReadCounters(t *testing.T) {
	bus := newMockBus()
	bus.regs[RegUVSData] = 0x01
	bus.regs[RegUVSData+1] = 0x02
	bus.regs[RegUVSData+2] = 0x03
	bus.regs[RegALSData] = 0xAA
	bus.regs[RegALSData+1] = 0xBB
	bus.regs[RegALSData+2] = 0x0C
	d := New(bus, DefaultAddress, ModeALS, Resolution18Bit, Rate100ms, Gain3)

	uvs, err := d.ReadUVS()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x030201), uvs)

	als, err := d.ReadALS()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0CBBAA), als)

	assert.Equal(t, [][]byte{{RegMainCtrl, CommandUVS}, {RegMainCtrl, CommandALS}}, bus.writes())
	var reads []byte
	for _, x := range bus.txs {
		if x.read == 1 {
			reads = append(reads, x.w[0])
		}
	}
	assert.Equal(t, []byte{0x10, 0x11, 0x12, 0x0D, 0x0E, 0x0F}, reads)
}

func TestRepeatedReadsDoNotSwitchMode(t *testing.T) {
	bus := newMockBus()
	d := newTestDevice(bus)

	for i := 0; i < 3; i++ {
		_, err := d.ReadUVS()
		require.NoError(t, err)
	}
	assert.Empty(t, bus.writes())
}

func TestIntegrationTime(t *testing.T) {
	want := map[Resolution]float64{
		Resolution20Bit: 4.0,
		Resolution19Bit: 2.0,
		Resolution18Bit: 1.0,
		Resolution17Bit: 0.5,
		Resolution16Bit: 0.25,
		Resolution13Bit: 0,
	}
	for r, it := range want {
		assert.Equal(t, it, r.IntegrationTime(), r.String())
	}
}

func TestFactors(t *testing.T) {
	assert.Equal(t, []float64{1, 3, 6, 9, 18}, []float64{Gain1.Factor(), Gain3.Factor(), Gain6.Factor(), Gain9.Factor(), Gain18.Factor()})
	var bits []int
	for _, r := range Resolutions {
		bits = append(bits, r.Bits())
	}
	assert.Equal(t, []int{20, 19, 18, 17, 16, 13}, bits)
}

func TestUnknownEnumPanics(t *testing.T) {
	assert.Panics(t, func() { Gain(9).Factor() })
	assert.Panics(t, func() { Resolution(6).Bits() })
	assert.Panics(t, func() { Resolution(6).IntegrationTime() })
	assert.Panics(t, func() { MeasurementRate(7).Duration() })
	assert.Equal(t, "Unknown", Gain(9).String())
}

func TestCalculateLux(t *testing.T) {
	d := newTestDevice(newMockBus())
	assert.InDelta(t, 200.0, d.CalculateLux(1000, 1), 1e-9)
	assert.InDelta(t, 400.0, d.CalculateLux(1000, 2), 1e-9)
}

func TestCalculateLuxMonotonic(t *testing.T) {
	for _, g := range Gains {
		for _, r := range Resolutions[:5] {
			d := New(nil, 0, ModeALS, r, Rate100ms, g)
			prev := d.CalculateLux(0, 1)
			for _, count := range []uint32{1, 10, 1000, 1 << 16, 1<<20 - 1} {
				lux := d.CalculateLux(count, 1)
				assert.Greater(t, lux, prev, "gain %v resolution %v", g, r)
				assert.InDelta(t, 3*lux, d.CalculateLux(count, 3), 1e-6)
				prev = lux
			}
		}
	}
}

func TestCalculateLux13BitIsDegenerate(t *testing.T) {
	d := New(nil, 0, ModeALS, Resolution13Bit, Rate100ms, Gain3)
	assert.True(t, math.IsInf(d.CalculateLux(100, 1), 1))
	assert.True(t, math.IsNaN(d.CalculateLux(0, 1)))
}

func TestCalculateUVI(t *testing.T) {
	d := New(nil, 0, ModeUVS, Resolution20Bit, Rate100ms, Gain18)
	assert.InDelta(t, 1.0, d.CalculateUVI(2300, 1), 1e-9)

	d = newTestDevice(nil)
	// gain 3/18 and 2^18/2^20
	assert.InDelta(t, 2300/(3.0/18.0*0.25*2300), d.CalculateUVI(2300, 1), 1e-9)
}

func TestCalculateUVIZero(t *testing.T) {
	for _, g := range Gains {
		for _, r := range Resolutions {
			d := New(nil, 0, ModeUVS, r, Rate100ms, g)
			assert.Equal(t, 0.0, d.CalculateUVI(0, 1.5))
		}
	}
}

func TestRead(t *testing.T) {
	bus := newMockBus()
	bus.regs[RegALSData] = 0xE8 // 1000
	bus.regs[RegALSData+1] = 0x03
	d := newTestDevice(bus)

	r, err := d.Read(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), r.ALS)
	assert.Equal(t, uint32(0), r.UVS)
	assert.InDelta(t, 200.0, r.Lux, 1e-9)
	assert.Equal(t, 0.0, r.UVI)
	assert.Equal(t, ModeALS, d.Mode)
}

func TestMaxCount(t *testing.T) {
	d := New(nil, 0, ModeALS, Resolution16Bit, Rate100ms, Gain3)
	assert.Equal(t, uint32(0xFFFF), d.MaxCount())
	d.Resolution = Resolution20Bit
	assert.Equal(t, uint32(0xFFFFF), d.MaxCount())
}

func TestSetOptimalGain(t *testing.T) {
	bus := newMockBus()
	bus.regs[RegALSData] = 0x10
	d := New(bus, 0, ModeALS, Resolution18Bit, Rate100ms, Gain1)
	d.Wait = func(time.Duration) {}

	require.NoError(t, d.SetOptimalGain())
	assert.Equal(t, Gain18, d.Gain)

	bus.regs[RegALSData] = 0xFF
	bus.regs[RegALSData+1] = 0xFF
	bus.regs[RegALSData+2] = 0x03
	err := d.SetOptimalGain()
	assert.True(t, errors.Is(err, ErrSaturated))
	assert.Equal(t, Gain1, d.Gain)
}

func TestSetOptimalGainChecksUVS(t *testing.T) {
	bus := newMockBus()
	bus.regs[RegUVSData] = 0xFF
	bus.regs[RegUVSData+1] = 0xFF
	bus.regs[RegUVSData+2] = 0x0F
	d := New(bus, 0, ModeALS, Resolution20Bit, Rate100ms, Gain3)
	d.Wait = func(time.Duration) {}

	err := d.SetOptimalGain()
	assert.True(t, errors.Is(err, ErrSaturated))
	assert.Equal(t, Gain1, d.Gain)
}

func TestSetOptimalGainWaitsForConversion(t *testing.T) {
	bus := newMockBus()
	d := New(bus, 0, ModeALS, Resolution20Bit, Rate25ms, Gain1)
	var waits []time.Duration
	d.Wait = func(w time.Duration) { waits = append(waits, w) }

	require.NoError(t, d.SetOptimalGain())
	// Both channels are read after their own wait
	require.Len(t, waits, 2)
	for _, w := range waits {
		assert.GreaterOrEqual(t, w, Resolution20Bit.ConversionTime())
	}
}

func TestSettleTime(t *testing.T) {
	d := New(nil, 0, ModeALS, Resolution20Bit, Rate25ms, Gain1)
	assert.Equal(t, 400*time.Millisecond, d.SettleTime())
	d.Resolution, d.Rate = Resolution16Bit, Rate2000ms
	assert.Equal(t, 2*time.Second, d.SettleTime())
	assert.Equal(t, 12500*time.Microsecond, Resolution13Bit.ConversionTime())
}

func TestSaturated(t *testing.T) {
	d := New(nil, 0, ModeALS, Resolution16Bit, Rate100ms, Gain1)
	assert.False(t, d.Saturated(Reading{ALS: 0xFFFE, UVS: 10}))
	assert.True(t, d.Saturated(Reading{ALS: 0xFFFF}))
	assert.True(t, d.Saturated(Reading{UVS: 0xFFFF}))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "18x", Gain18.String())
	assert.Equal(t, "20bit", Resolution20Bit.String())
	assert.Equal(t, "100ms", Rate100ms.String())
	assert.Equal(t, "2s", Rate2000ms.String())
	assert.Equal(t, "UVS", ModeUVS.String())
}

func TestOpenBusUnknownBackend(t *testing.T) {
	_, err := OpenBus("spi", "")
	assert.Error(t, err)

	bus, err := OpenBus("devfs", "")
	require.NoError(t, err)
	assert.Equal(t, "/dev/i2c-1", bus.(*DevfsBus).Path)
	assert.NoError(t, bus.Close())
}

func TestDevfsBusOpenFailure(t *testing.T) {
	bus := OpenDevfs("/nonexistent/i2c-9")
	d := New(bus, 0, ModeUVS, Resolution18Bit, Rate100ms, Gain3)
	err := d.Initialize()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIdentityMismatch))
	assert.Contains(t, err.Error(), "/nonexistent/i2c-9")
}
