package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/momentics/goeis/pkg/ad5933"
)

// PWMClock формирует внешний тактовый сигнал AD5933 аппаратным ШИМ
// со скважностью 50%.
type PWMClock struct {
	pin gpio.PinOut
}

var _ ad5933.ClockGenerator = (*PWMClock)(nil)

func NewPWMClock(pin gpio.PinOut) *PWMClock { return &PWMClock{pin: pin} }

func (c *PWMClock) Start(f physic.Frequency) error {
	if err := c.pin.PWM(gpio.DutyHalf, f); err != nil {
		return fmt.Errorf("board: ШИМ %s на %s: %w", f, c.pin, err)
	}
	return nil
}

// Stop удерживает вывод в нуле, чтобы не наводить помеху при работе от
// внутреннего генератора.
func (c *PWMClock) Stop() error {
	if err := c.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("board: останов ШИМ на %s: %w", c.pin, err)
	}
	return nil
}
