package ad5933

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestControl_Pack(t *testing.T) {
	c := Control{Function: FuncStartSweep, Range: Range200mVp, Gain: PGAx1, ExternalClock: true}
	if got := c.Pack(); got != 0x2308 {
		t.Fatalf("Pack = 0x%04X, ожидалось 0x2308", got)
	}
	if got := UnpackControl(0x2308); got != c {
		t.Fatalf("UnpackControl = %+v, ожидалось %+v", got, c)
	}
	reset := Control{Reset: true}
	if got := reset.Pack(); got != 0x0010 {
		t.Fatalf("Pack(reset) = 0x%04X", got)
	}
}

func TestSettlingTime_Pack(t *testing.T) {
	t.Run("Multipliers", func(t *testing.T) {
		for _, tc := range []struct {
			s    SettlingTime
			want uint16
		}{
			{SettlingTime{Cycles: 15, Multiplier: SettleX1}, 0x000F},
			{SettlingTime{Cycles: 15, Multiplier: SettleX2}, 0x020F},
			{SettlingTime{Cycles: MaxSettlingCycles, Multiplier: SettleX4}, 0x07FF},
		} {
			got, err := tc.s.Pack()
			if err != nil || got != tc.want {
				t.Fatalf("%+v: 0x%04X, %v; ожидалось 0x%04X", tc.s, got, err, tc.want)
			}
			if back := UnpackSettlingTime(got); back != tc.s {
				t.Fatalf("UnpackSettlingTime(0x%04X) = %+v", got, back)
			}
		}
	})
	t.Run("Invalid", func(t *testing.T) {
		if _, err := (SettlingTime{Cycles: MaxSettlingCycles + 1}).Pack(); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("ожидалась ErrInvalidParameter, получено %v", err)
		}
		if _, err := (SettlingTime{Cycles: 1, Multiplier: 3}).Pack(); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("ожидалась ErrInvalidParameter, получено %v", err)
		}
	})
}

func TestStatus(t *testing.T) {
	s := Status(0x06)
	if s.TemperatureValid() || !s.ImpedanceValid() || !s.SweepComplete() {
		t.Fatalf("неверный разбор статуса 0x%02X", uint8(s))
	}
}

func TestDecodeTemperature(t *testing.T) {
	for _, tc := range []struct {
		raw  uint16
		want float64
	}{
		{0x0000, 0},
		{25 * 32, 25},
		{0x1FFF, 8191.0 / 32},
		{0x3FFF, -1.0 / 32},
		{0x3E70, -12.5},
		{0x2000, -256},
	} {
		if got := DecodeTemperature(tc.raw); got != tc.want {
			t.Errorf("DecodeTemperature(0x%04X) = %v, ожидалось %v", tc.raw, got, tc.want)
		}
	}
}

func TestRegisters_Playback(t *testing.T) {
	t.Run("Write24", func(t *testing.T) {
		p := &i2ctest.Playback{
			Ops: []i2ctest.IO{
				{Addr: DefaultAddress, W: []byte{cmdAddrPointer, regStartFreq}},
				{Addr: DefaultAddress, W: []byte{cmdBlockWrite, 3, 0x0E, 0xA6, 0x45}},
			},
			DontPanic: true,
		}
		r := registers{dev: i2c.Dev{Bus: p, Addr: DefaultAddress}}
		if err := r.write24(regStartFreq, 0x0EA645); err != nil {
			t.Fatalf("write24: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("Write24Overflow", func(t *testing.T) {
		p := &i2ctest.Playback{DontPanic: true}
		r := registers{dev: i2c.Dev{Bus: p, Addr: DefaultAddress}}
		if err := r.write24(regStartFreq, 0x1000000); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("ожидалась ErrInvalidParameter, получено %v", err)
		}
	})
	t.Run("Write8", func(t *testing.T) {
		p := &i2ctest.Playback{
			Ops: []i2ctest.IO{
				{Addr: DefaultAddress, W: []byte{cmdAddrPointer, regControl + 1}},
				{Addr: DefaultAddress, W: []byte{cmdBlockWrite, 1, 0x10}},
			},
			DontPanic: true,
		}
		r := registers{dev: i2c.Dev{Bus: p, Addr: DefaultAddress}}
		if err := r.write8(regControl+1, 0x10); err != nil {
			t.Fatalf("write8: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("Read16Signed", func(t *testing.T) {
		p := &i2ctest.Playback{
			Ops: []i2ctest.IO{
				{Addr: DefaultAddress, W: []byte{cmdAddrPointer, regReal}},
				{Addr: DefaultAddress, W: []byte{cmdBlockRead, 2}, R: []byte{0xFF, 0x9C}},
			},
			DontPanic: true,
		}
		r := registers{dev: i2c.Dev{Bus: p, Addr: DefaultAddress}}
		v, err := r.read16(regReal)
		if err != nil {
			t.Fatalf("read16: %v", err)
		}
		if int16(v) != -100 {
			t.Fatalf("read16 = %d, ожидалось -100", int16(v))
		}
	})
	t.Run("Read24", func(t *testing.T) {
		p := &i2ctest.Playback{
			Ops: []i2ctest.IO{
				{Addr: DefaultAddress, W: []byte{cmdAddrPointer, regFreqInc}},
				{Addr: DefaultAddress, W: []byte{cmdBlockRead, 3}, R: []byte{0x01, 0x02, 0x03}},
			},
			DontPanic: true,
		}
		r := registers{dev: i2c.Dev{Bus: p, Addr: DefaultAddress}}
		v, err := r.read24(regFreqInc)
		if err != nil || v != 0x010203 {
			t.Fatalf("read24 = 0x%X, %v", v, err)
		}
	})
	t.Run("BusError", func(t *testing.T) {
		p := &i2ctest.Playback{DontPanic: true}
		r := registers{dev: i2c.Dev{Bus: p, Addr: DefaultAddress}}
		if _, err := r.readStatus(); !errors.Is(err, ErrTransport) {
			t.Fatalf("ожидалась ErrTransport, получено %v", err)
		}
	})
}

// stuckBus не отвечает, пока не закрыт release.
type stuckBus struct {
	release chan struct{}
}

func (b *stuckBus) String() string { return "stuck" }
func (b *stuckBus) SetSpeed(physic.Frequency) error { return nil }

func (b *stuckBus) Tx(addr uint16, w, r []byte) error {
	<-b.release
	return nil
}

func TestRegisters_Timeout(t *testing.T) {
	bus := &stuckBus{release: make(chan struct{})}
	defer close(bus.release)
	r := registers{dev: i2c.Dev{Bus: bus, Addr: DefaultAddress}, timeout: 5 * time.Millisecond}
	if err := r.write16(regControl, 0); !errors.Is(err, ErrTransport) {
		t.Fatalf("ожидалась ErrTransport, получено %v", err)
	}
}
