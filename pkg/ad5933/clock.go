package ad5933

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// ClockSource - один из четырёх источников тактирования DDS, от быстрого к медленному.
type ClockSource int

const (
	ClockInternal ClockSource = iota
	ClockExternalHigh
	ClockExternalMedium
	ClockExternalLow

	NumClockSources = 4
)

// Пределы частоты возбуждения, Гц.
const (
	MinFrequency uint32 = 10
	MaxFrequency uint32 = 100_000
)

type clockInfo struct {
	name    string
	freq    uint32 // Гц
	minFreq uint32 // минимальная частота, которую источник отрабатывает точно
}

var clocks = [NumClockSources]clockInfo{
	ClockInternal:       {"internal", 16_776_000, 10_000},
	ClockExternalHigh:   {"ext-high", 1_666_667, 1_000},
	ClockExternalMedium: {"ext-medium", 166_667, 100},
	ClockExternalLow:    {"ext-low", 16_667, 10},
}

func (c ClockSource) String() string {
	if c < 0 || c >= NumClockSources {
		return fmt.Sprintf("ClockSource(%d)", int(c))
	}
	return clocks[c].name
}

// Frequency возвращает частоту источника в герцах.
func (c ClockSource) Frequency() uint32 { return clocks[c].freq }

func (c ClockSource) External() bool { return c != ClockInternal }

// Window возвращает полуинтервал частот [lo, hi), обслуживаемый источником.
// Для внутреннего генератора верхняя граница включительна.
func (c ClockSource) Window() (lo, hi uint32) {
	lo = clocks[c].minFreq
	if c == ClockInternal {
		return lo, MaxFrequency
	}
	return lo, clocks[c-1].minFreq
}

// ClockFor выбирает самый быстрый источник, минимальная частота которого не выше f.
func ClockFor(f uint32) (ClockSource, error) {
	if f < MinFrequency || f > MaxFrequency {
		return 0, fmt.Errorf("%w: частота %d Гц вне диапазона [%d, %d]", ErrInvalidParameter, f, MinFrequency, MaxFrequency)
	}
	for c := ClockInternal; c < NumClockSources; c++ {
		if clocks[c].minFreq <= f {
			return c, nil
		}
	}
	return ClockExternalLow, nil
}

// FrequencyToRegister вычисляет код регистра частоты floor(2^27 * 4 * f / clk).
func FrequencyToRegister(f uint32, c ClockSource) (uint32, error) {
	clk := uint64(c.Frequency())
	code := (uint64(f) << 29) / clk
	if code > 0xFFFFFF {
		return 0, fmt.Errorf("%w: частота %d Гц не кодируется при тактовой %d Гц", ErrInvalidParameter, f, clk)
	}
	return uint32(code), nil
}

// ClockGenerator формирует внешний тактовый сигнал (таймер микроконтроллера, ШИМ-вывод).
type ClockGenerator interface {
	Start(f physic.Frequency) error
	Stop() error
}

type nopClock struct{}

func (nopClock) Start(physic.Frequency) error { return nil }
func (nopClock) Stop() error                  { return nil }
