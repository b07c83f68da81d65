package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/momentics/goeis/pkg/ad5933"
)

// Open находит выводы платы в gpioreg; host.Init должен быть уже вызван.
// Если ClockPin пуст, генератор не возвращается и диапазоны внешнего
// тактирования будут работать только при внешнем кварце на плате.
func Open(cfg Config) (*GPIOMux, ad5933.ClockGenerator, error) {
	var att [AttenuationPins]gpio.PinOut
	var fb [FeedbackPins]gpio.PinOut
	for i, name := range cfg.AttenuationPins {
		p, err := lookup(name)
		if err != nil {
			return nil, nil, err
		}
		att[i] = p
	}
	for i, name := range cfg.FeedbackPins {
		p, err := lookup(name)
		if err != nil {
			return nil, nil, err
		}
		fb[i] = p
	}
	mux, err := NewGPIOMux(att, fb)
	if err != nil {
		return nil, nil, err
	}
	if cfg.ClockPin == "" {
		return mux, nil, nil
	}
	p, err := lookup(cfg.ClockPin)
	if err != nil {
		return nil, nil, err
	}
	return mux, NewPWMClock(p), nil
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("board: вывод %q не найден", name)
	}
	return p, nil
}
