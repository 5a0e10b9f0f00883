package tcs34725

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/io/i2c/driver"
)

// registerFile emulates the TCS34725 register map behind an I2C connection.
type registerFile struct {
	addr   int
	regs   [32]byte
	writes [][]byte
}

func (f *registerFile) Open(addr int, tenbit bool) (driver.Conn, error) {
	f.addr = addr
	return f, nil
}

func (f *registerFile) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	cmd := w[0]
	f.writes = append(f.writes, append([]byte(nil), w...))
	if cmd&TCS34725_CMD_SPECIAL == TCS34725_CMD_SPECIAL {
		if cmd&0x1F == TCS34725_CMD_CLEAR_INT {
			f.regs[TCS34725_REGISTER_STATUS] &^= TCS34725_STATUS_AINT
		}
		return nil
	}
	reg := cmd & 0x1F
	for i, b := range w[1:] {
		f.regs[int(reg)+i] = b
	}
	for i := range r {
		r[i] = f.regs[int(reg)+i]
	}
	return nil
}

func (f *registerFile) Close() error {
	return nil
}

// Register addresses written, in order
func (f *registerFile) writtenRegisters() []byte {
	var regs []byte
	for _, w := range f.writes {
		if len(w) > 1 {
			regs = append(regs, w[0]&0x1F)
		}
	}
	return regs
}

func newTestDevice(t *testing.T) (*TCS34725, *registerFile) {
	t.Helper()
	regs := &registerFile{}
	tcs, err := openTCS34725(regs)
	require.NoError(t, err)
	assert.Equal(t, int(TCS34725_ADDR), regs.addr)
	return tcs, regs
}

func TestProbe(t *testing.T) {
	tests := []struct {
		id   byte
		want bool
	}{
		{0x44, true},
		{0x4D, true},
		{0x10, true},
		{0x00, false},
		{0x50, false},
	}
	for _, tt := range tests {
		tcs, regs := newTestDevice(t)
		regs.regs[TCS34725_REGISTER_ID] = tt.id
		assert.Equal(t, tt.want, tcs.Probe(), "id 0x%02X", tt.id)
	}
}

func TestConfigure(t *testing.T) {
	tcs, regs := newTestDevice(t)
	require.NoError(t, tcs.Configure(TCS34725_GAIN_16X, TCS34725_INTEGRATIONTIME_154MS))

	assert.True(t, tcs.Enabled)
	assert.Equal(t, TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN, regs.regs[TCS34725_REGISTER_ENABLE])
	assert.Equal(t, TCS34725_INTEGRATIONTIME_154MS, regs.regs[TCS34725_REGISTER_ATIME])
	assert.Equal(t, TCS34725_GAIN_16X, regs.regs[TCS34725_REGISTER_CONTROL])
	assert.Equal(t, []byte{
		TCS34725_REGISTER_ENABLE,
		TCS34725_REGISTER_ENABLE,
		TCS34725_REGISTER_ATIME,
		TCS34725_REGISTER_CONTROL,
	}, regs.writtenRegisters())
	for _, w := range regs.writes {
		assert.NotZero(t, w[0]&TCS34725_COMMAND_BIT)
	}
}

func TestSetGain_NotEnabled(t *testing.T) {
	tcs, _ := newTestDevice(t)
	assert.ErrorIs(t, tcs.SetGain(TCS34725_GAIN_1X), ErrNotEnabled)
	assert.ErrorIs(t, tcs.SetTiming(TCS34725_INTEGRATIONTIME_24MS), ErrNotEnabled)
	_, err := tcs.ReadChannels(false)
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestReadChannels(t *testing.T) {
	tcs, regs := newTestDevice(t)
	require.NoError(t, tcs.Configure(TCS34725_GAIN_4X, TCS34725_INTEGRATIONTIME_154MS))
	copy(regs.regs[TCS34725_REGISTER_CDATAL:], []byte{0x01, 0x02, 0x03, 0x00, 0x05, 0x00, 0x07, 0x00})

	ch, err := tcs.ReadChannels(false)
	require.NoError(t, err)
	assert.Equal(t, Channels{R: 3, G: 5, B: 7, C: 513}, ch)

	last := regs.writes[len(regs.writes)-1]
	assert.Equal(t, TCS34725_COMMAND_BIT|TCS34725_CMD_AUTO_INCREMENT|TCS34725_REGISTER_CDATAL, last[0])
}

func TestReady_Polled(t *testing.T) {
	tcs, regs := newTestDevice(t)
	ready, err := tcs.Ready()
	require.NoError(t, err)
	assert.False(t, ready)

	regs.regs[TCS34725_REGISTER_STATUS] = TCS34725_STATUS_AVALID
	ready, err = tcs.Ready()
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestReady_InterruptConsumesAINT(t *testing.T) {
	tcs, regs := newTestDevice(t)
	require.NoError(t, tcs.Configure(TCS34725_GAIN_4X, TCS34725_INTEGRATIONTIME_154MS))
	require.NoError(t, tcs.SetInterrupt(true))
	assert.Equal(t, TCS34725_ENABLE_AIEN|TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN, regs.regs[TCS34725_REGISTER_ENABLE])

	// AVALID alone is not enough once the interrupt is in use
	regs.regs[TCS34725_REGISTER_STATUS] = TCS34725_STATUS_AVALID
	ready, err := tcs.Ready()
	require.NoError(t, err)
	assert.False(t, ready)

	regs.regs[TCS34725_REGISTER_STATUS] = TCS34725_STATUS_AINT | TCS34725_STATUS_AVALID
	ready, err = tcs.Ready()
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, []byte{0xE6}, regs.writes[len(regs.writes)-1])

	ready, err = tcs.Ready()
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestEnable_KeepsInterruptAcrossPowerCycle(t *testing.T) {
	tcs, regs := newTestDevice(t)
	require.NoError(t, tcs.Configure(TCS34725_GAIN_4X, TCS34725_INTEGRATIONTIME_154MS))
	require.NoError(t, tcs.SetInterrupt(true))

	require.NoError(t, tcs.Disable())
	assert.False(t, tcs.Enabled)
	assert.Equal(t, TCS34725_ENABLE_AIEN, regs.regs[TCS34725_REGISTER_ENABLE])

	require.NoError(t, tcs.Configure(TCS34725_GAIN_1X, TCS34725_INTEGRATIONTIME_154MS))
	assert.Equal(t, TCS34725_ENABLE_AIEN|TCS34725_ENABLE_PON|TCS34725_ENABLE_AEN, regs.regs[TCS34725_REGISTER_ENABLE])
}

func TestSetInterruptLimits(t *testing.T) {
	tcs, regs := newTestDevice(t)
	require.NoError(t, tcs.SetInterruptLimits(0x1234, 0xABCD))

	last := regs.writes[len(regs.writes)-1]
	assert.Equal(t, TCS34725_COMMAND_BIT|TCS34725_CMD_AUTO_INCREMENT|TCS34725_REGISTER_AILTL, last[0])
	assert.Equal(t, []byte{0x34, 0x12, 0xCD, 0xAB}, regs.regs[TCS34725_REGISTER_AILTL:TCS34725_REGISTER_AIHTH+1])
}

func TestSetPersistence(t *testing.T) {
	tcs, regs := newTestDevice(t)
	require.NoError(t, tcs.SetPersistence(TCS34725_PERS_5))
	assert.Equal(t, TCS34725_PERS_5, regs.regs[TCS34725_REGISTER_PERS])
}
