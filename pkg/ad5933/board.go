package ad5933

import (
	"fmt"
	"time"
)

const (
	NumAttenuations = 4
	NumFeedbacks    = 8
)

// BoardConfig описывает аналоговый тракт платы: какие номиналы стоят в каких
// слотах мультиплексоров и постоянную времени разделительного конденсатора.
type BoardConfig struct {
	Attenuations [NumAttenuations]uint32
	Feedbacks    [NumFeedbacks]uint32
	CouplingRC   time.Duration
}

// Mux переключает линии выбора аттенюатора и резистора обратной связи.
type Mux interface {
	Select(attenuation, feedback int) error
}

type nopMux struct{}

func (nopMux) Select(int, int) error { return nil }

// RangeSettings - настройки измерительного диапазона.
type RangeSettings struct {
	Gain        PGAGain
	Voltage     VoltageRange
	Attenuation uint32
	Feedback    uint32 // Ом
}

// resolve находит слоты мультиплексоров для запрошенных номиналов.
func (b *BoardConfig) resolve(r RangeSettings) (att, fb int, err error) {
	att, fb = -1, -1
	for i, v := range b.Attenuations {
		if v != 0 && v == r.Attenuation {
			att = i
			break
		}
	}
	for i, v := range b.Feedbacks {
		if v != 0 && v == r.Feedback {
			fb = i
			break
		}
	}
	if att < 0 {
		return 0, 0, fmt.Errorf("%w: ослабление %d отсутствует в конфигурации платы", ErrInvalidParameter, r.Attenuation)
	}
	if fb < 0 {
		return 0, 0, fmt.Errorf("%w: резистор обратной связи %d Ом отсутствует в конфигурации платы", ErrInvalidParameter, r.Feedback)
	}
	if r.Gain > PGAx1 || r.Voltage > Range1Vpp {
		return 0, 0, fmt.Errorf("%w: некорректные PGA/диапазон напряжения", ErrInvalidParameter)
	}
	return att, fb, nil
}

// rechargeDelay - ожидание заряда разделительного конденсатора (4 RC).
func (b *BoardConfig) rechargeDelay() time.Duration {
	return 4 * b.CouplingRC
}
