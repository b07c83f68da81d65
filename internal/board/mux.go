// Package board связывает драйвер AD5933 с периферией конкретной платы:
// линиями выбора мультиплексоров, ШИМ-выводом внешнего тактирования и
// файлом описания аналогового тракта.
package board

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/momentics/goeis/pkg/ad5933"
)

const (
	AttenuationPins = 2
	FeedbackPins    = 3
)

// GPIOMux выставляет номер слота двоичным кодом на линиях выбора,
// младший бит - первая линия.
type GPIOMux struct {
	att [AttenuationPins]gpio.PinOut
	fb  [FeedbackPins]gpio.PinOut
}

var _ ad5933.Mux = (*GPIOMux)(nil)

func NewGPIOMux(att [AttenuationPins]gpio.PinOut, fb [FeedbackPins]gpio.PinOut) (*GPIOMux, error) {
	for i, p := range att {
		if p == nil {
			return nil, fmt.Errorf("board: не задана линия аттенюатора %d", i)
		}
	}
	for i, p := range fb {
		if p == nil {
			return nil, fmt.Errorf("board: не задана линия обратной связи %d", i)
		}
	}
	return &GPIOMux{att: att, fb: fb}, nil
}

func (m *GPIOMux) Select(attenuation, feedback int) error {
	if attenuation < 0 || attenuation >= 1<<AttenuationPins {
		return fmt.Errorf("board: слот аттенюатора %d вне диапазона", attenuation)
	}
	if feedback < 0 || feedback >= 1<<FeedbackPins {
		return fmt.Errorf("board: слот обратной связи %d вне диапазона", feedback)
	}
	return errors.Join(drive(m.att[:], attenuation), drive(m.fb[:], feedback))
}

func drive(pins []gpio.PinOut, code int) error {
	for i, p := range pins {
		if err := p.Out(gpio.Level(code&(1<<i) != 0)); err != nil {
			return fmt.Errorf("board: линия %s: %w", p, err)
		}
	}
	return nil
}
