package ad5933

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// Карта регистров AD5933.
const (
	DefaultAddress uint16 = 0x0D

	regControl    byte = 0x80
	regStartFreq  byte = 0x82
	regFreqInc    byte = 0x85
	regIncrements byte = 0x88
	regSettling   byte = 0x8A
	regStatus     byte = 0x8F
	regTemp       byte = 0x92
	regReal       byte = 0x94
	regImag       byte = 0x96

	cmdBlockWrite  byte = 0xA0
	cmdBlockRead   byte = 0xA1
	cmdAddrPointer byte = 0xB0
)

// Function - код функции в старшей тетраде регистра управления.
type Function uint8

const (
	FuncNop                Function = 0x0
	FuncInitStartFrequency Function = 0x1
	FuncStartSweep         Function = 0x2
	FuncIncrementFrequency Function = 0x3
	FuncRepeatFrequency    Function = 0x4
	FuncMeasureTemperature Function = 0x9
	FuncPowerDown          Function = 0xA
	FuncStandby            Function = 0xB
)

func (f Function) String() string {
	switch f {
	case FuncNop:
		return "nop"
	case FuncInitStartFrequency:
		return "init"
	case FuncStartSweep:
		return "start"
	case FuncIncrementFrequency:
		return "increment"
	case FuncRepeatFrequency:
		return "repeat"
	case FuncMeasureTemperature:
		return "temperature"
	case FuncPowerDown:
		return "power-down"
	case FuncStandby:
		return "standby"
	default:
		return fmt.Sprintf("Function(0x%X)", uint8(f))
	}
}

// VoltageRange - амплитуда выходного сигнала.
type VoltageRange uint8

const (
	Range2Vpp   VoltageRange = 0b00
	Range200mVp VoltageRange = 0b01
	Range400mVp VoltageRange = 0b10
	Range1Vpp   VoltageRange = 0b11
)

// PGAGain - усиление входного PGA.
type PGAGain uint8

const (
	PGAx5 PGAGain = 0
	PGAx1 PGAGain = 1
)

// Control - содержимое 16-битного регистра управления.
type Control struct {
	Function      Function
	Range         VoltageRange
	Gain          PGAGain
	Reset         bool
	ExternalClock bool
}

// Pack кодирует регистр: D15..D12 функция, D10..D9 диапазон, D8 PGA,
// D4 сброс, D3 внешний тактовый сигнал.
func (c Control) Pack() uint16 {
	v := uint16(c.Function&0xF)<<12 |
		uint16(c.Range&0x3)<<9 |
		uint16(c.Gain&0x1)<<8
	if c.Reset {
		v |= 1 << 4
	}
	if c.ExternalClock {
		v |= 1 << 3
	}
	return v
}

func UnpackControl(v uint16) Control {
	return Control{
		Function:      Function(v >> 12),
		Range:         VoltageRange(v>>9) & 0x3,
		Gain:          PGAGain(v>>8) & 0x1,
		Reset:         v&(1<<4) != 0,
		ExternalClock: v&(1<<3) != 0,
	}
}

// SettlingMultiplier - множитель числа циклов установления.
type SettlingMultiplier uint8

const (
	SettleX1 SettlingMultiplier = 1
	SettleX2 SettlingMultiplier = 2
	SettleX4 SettlingMultiplier = 4
)

// SettlingTime - регистр времени установления (9 бит циклов + 2 бита множителя).
type SettlingTime struct {
	Cycles     uint16
	Multiplier SettlingMultiplier
}

func (s SettlingTime) Pack() (uint16, error) {
	if s.Cycles > MaxSettlingCycles {
		return 0, fmt.Errorf("%w: циклов установления %d > %d", ErrInvalidParameter, s.Cycles, MaxSettlingCycles)
	}
	var code uint16
	switch s.Multiplier {
	case SettleX1, 0:
		code = 0b00
	case SettleX2:
		code = 0b01
	case SettleX4:
		code = 0b11
	default:
		return 0, fmt.Errorf("%w: множитель установления %d", ErrInvalidParameter, s.Multiplier)
	}
	return code<<9 | s.Cycles, nil
}

func UnpackSettlingTime(v uint16) SettlingTime {
	s := SettlingTime{Cycles: v & MaxSettlingCycles}
	switch (v >> 9) & 0x3 {
	case 0b01:
		s.Multiplier = SettleX2
	case 0b11:
		s.Multiplier = SettleX4
	default:
		s.Multiplier = SettleX1
	}
	return s
}

// Status - регистр состояния.
type Status uint8

func (s Status) TemperatureValid() bool { return s&0x01 != 0 }
func (s Status) ImpedanceValid() bool   { return s&0x02 != 0 }
func (s Status) SweepComplete() bool    { return s&0x04 != 0 }

// DecodeTemperature переводит 14-битный код датчика в градусы Цельсия.
func DecodeTemperature(raw uint16) float64 {
	code := int32(raw & 0x3FFF)
	if code&0x2000 != 0 {
		code -= 0x4000
	}
	return float64(code) / 32
}

// registers реализует блочный протокол обмена с регистрами через указатель адреса.
type registers struct {
	dev     i2c.Dev
	timeout time.Duration
	scratch [5]byte
}

func (r *registers) tx(w, rd []byte) error {
	if r.timeout <= 0 {
		if err := r.dev.Tx(w, rd); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil
	}
	// Ответ читается во временный буфер: по таймауту шина может ещё писать в него.
	w = append([]byte(nil), w...)
	var tmp []byte
	if len(rd) > 0 {
		tmp = make([]byte, len(rd))
	}
	done := make(chan error, 1)
	go func() { done <- r.dev.Tx(w, tmp) }()
	t := time.NewTimer(r.timeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		copy(rd, tmp)
		return nil
	case <-t.C:
		return fmt.Errorf("%w: обмен не завершился за %s", ErrTransport, r.timeout)
	}
}

func (r *registers) setPointer(reg byte) error {
	req := r.scratch[:2]
	req[0], req[1] = cmdAddrPointer, reg
	return r.tx(req, nil)
}

// write пишет val старшим байтом вперёд, начиная с регистра reg.
func (r *registers) write(reg byte, val uint32, n int) error {
	if err := r.setPointer(reg); err != nil {
		return err
	}
	req := r.scratch[:2+n]
	req[0], req[1] = cmdBlockWrite, byte(n)
	for i := 0; i < n; i++ {
		req[2+i] = byte(val >> (8 * (n - 1 - i)))
	}
	return r.tx(req, nil)
}

func (r *registers) read(reg byte, n int) (uint32, error) {
	if err := r.setPointer(reg); err != nil {
		return 0, err
	}
	req, resp := r.scratch[:2], r.scratch[2:2+n]
	req[0], req[1] = cmdBlockRead, byte(n)
	if err := r.tx(req, resp); err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range resp {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

func (r *registers) write8(reg, val byte) error { return r.write(reg, uint32(val), 1) }
func (r *registers) write16(reg byte, v uint16) error { return r.write(reg, uint32(v), 2) }

func (r *registers) write24(reg byte, v uint32) error {
	if v > 0xFFFFFF {
		return fmt.Errorf("%w: значение 0x%X не помещается в 24 бита", ErrInvalidParameter, v)
	}
	return r.write(reg, v, 3)
}

func (r *registers) read8(reg byte) (byte, error) {
	v, err := r.read(reg, 1)
	return byte(v), err
}

func (r *registers) read16(reg byte) (uint16, error) {
	v, err := r.read(reg, 2)
	return uint16(v), err
}

func (r *registers) read24(reg byte) (uint32, error) { return r.read(reg, 3) }

func (r *registers) readStatus() (Status, error) {
	v, err := r.read8(regStatus)
	return Status(v), err
}
