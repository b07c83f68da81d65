package ad5933

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
)

// simChip симулирует AD5933 на уровне блочного протокола I2C.
type simChip struct {
	mu       sync.Mutex
	regs     [256]byte
	ptr      byte
	txCount  int
	commands []Function

	index    int // номер приращения в текущей развёртке
	valid    bool
	complete bool
	tempOK   bool
	tempRaw  uint16

	// sample возвращает отсчёт для n-го измерения с начала работы симулятора.
	sample   func(n int) (re, im int16)
	measured int

	// fail, если задан, вызывается перед каждым обменом.
	fail func(w []byte) error
}

func newSimChip() *simChip {
	return &simChip{
		sample:  func(int) (int16, int16) { return 100, 0 },
		tempRaw: 25 * 32,
	}
}

func (s *simChip) String() string { return "sim-ad5933" }
func (s *simChip) SetSpeed(f physic.Frequency) error { return nil }

func (s *simChip) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	if addr != DefaultAddress {
		return fmt.Errorf("sim: неизвестный адрес 0x%X", addr)
	}
	if s.fail != nil {
		if err := s.fail(w); err != nil {
			return err
		}
	}
	if len(w) < 2 {
		return errors.New("sim: короткий запрос")
	}
	switch w[0] {
	case cmdAddrPointer:
		s.ptr = w[1]
	case cmdBlockWrite:
		n := int(w[1])
		if len(w) != 2+n {
			return errors.New("sim: длина блока не совпадает")
		}
		copy(s.regs[s.ptr:], w[2:])
		if s.ptr == regControl && n >= 1 {
			s.execute(Function(w[2] >> 4))
		}
	case cmdBlockRead:
		n := int(w[1])
		if len(r) != n {
			return errors.New("sim: длина ответа не совпадает")
		}
		s.regs[regStatus] = s.status()
		copy(r, s.regs[s.ptr:int(s.ptr)+n])
	default:
		return fmt.Errorf("sim: неизвестная команда 0x%X", w[0])
	}
	return nil
}

func (s *simChip) status() byte {
	var st byte
	if s.tempOK {
		st |= 0x01
	}
	if s.valid {
		st |= 0x02
	}
	if s.complete {
		st |= 0x04
	}
	return st
}

func (s *simChip) increments() int {
	return int(s.regs[regIncrements])<<8 | int(s.regs[regIncrements+1])
}

func (s *simChip) reg24(reg byte) uint32 {
	return uint32(s.regs[reg])<<16 | uint32(s.regs[reg+1])<<8 | uint32(s.regs[reg+2])
}

func (s *simChip) measure() {
	re, im := s.sample(s.measured)
	s.measured++
	s.regs[regReal], s.regs[regReal+1] = byte(uint16(re)>>8), byte(re)
	s.regs[regImag], s.regs[regImag+1] = byte(uint16(im)>>8), byte(im)
	s.valid = true
	s.complete = s.index >= s.increments()
}

func (s *simChip) execute(f Function) {
	s.commands = append(s.commands, f)
	s.tempOK = f == FuncMeasureTemperature
	switch f {
	case FuncInitStartFrequency:
		s.index, s.valid, s.complete = 0, false, false
	case FuncStartSweep, FuncRepeatFrequency:
		s.measure()
	case FuncIncrementFrequency:
		s.index++
		s.measure()
	case FuncMeasureTemperature:
		s.regs[regTemp], s.regs[regTemp+1] = byte(s.tempRaw>>8), byte(s.tempRaw)
	case FuncPowerDown, FuncStandby:
		s.valid, s.complete = false, false
	}
}

func (s *simChip) count(f Function) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c == f {
			n++
		}
	}
	return n
}

func (s *simChip) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// fakeClock - управляемые вручную часы.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingMux struct {
	att, fb int
	calls   int
}

func (m *recordingMux) Select(att, fb int) error {
	m.att, m.fb = att, fb
	m.calls++
	return nil
}

var testBoard = BoardConfig{
	Attenuations: [NumAttenuations]uint32{1, 10, 100, 1000},
	Feedbacks:    [NumFeedbacks]uint32{100, 1_000, 10_000, 100_000, 1_000_000},
}

var testRange = RangeSettings{Gain: PGAx1, Voltage: Range2Vpp, Attenuation: 1, Feedback: 10_000}
