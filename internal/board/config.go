package board

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/momentics/goeis/pkg/ad5933"
)

// Config - описание платы: номиналы в слотах мультиплексоров и имена
// выводов GPIO, как их понимает gpioreg.
type Config struct {
	Analog          ad5933.BoardConfig
	AttenuationPins [AttenuationPins]string
	FeedbackPins    [FeedbackPins]string
	ClockPin        string // пусто - внешнего тактирования нет
}

// Default - плата с делителем 1/2/10/100 и рядом резисторов от 100 Ом до 1 МОм.
func Default() Config {
	return Config{
		Analog: ad5933.BoardConfig{
			Attenuations: [ad5933.NumAttenuations]uint32{1, 2, 10, 100},
			Feedbacks:    [ad5933.NumFeedbacks]uint32{100, 470, 1_000, 4_700, 10_000, 47_000, 100_000, 1_000_000},
			CouplingRC:   10 * time.Millisecond,
		},
		AttenuationPins: [AttenuationPins]string{"GPIO5", "GPIO6"},
		FeedbackPins:    [FeedbackPins]string{"GPIO16", "GPIO20", "GPIO21"},
		ClockPin:        "GPIO18",
	}
}

type fileConfig struct {
	Attenuations    []uint32 `json:"attenuations"`
	Feedbacks       []uint32 `json:"feedbacks"`
	CouplingRCms    *float64 `json:"coupling_rc_ms"`
	AttenuationPins []string `json:"attenuation_pins"`
	FeedbackPins    []string `json:"feedback_pins"`
	ClockPin        *string  `json:"clock_pin"`
}

// Load читает JSON-описание платы. Отсутствующие поля берутся из Default.
func Load(r io.Reader) (Config, error) {
	var fc fileConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("board: разбор конфигурации: %w", err)
	}

	cfg := Default()
	if fc.Attenuations != nil {
		if len(fc.Attenuations) > ad5933.NumAttenuations {
			return Config{}, fmt.Errorf("board: %d ослаблений, слотов %d", len(fc.Attenuations), ad5933.NumAttenuations)
		}
		cfg.Analog.Attenuations = [ad5933.NumAttenuations]uint32{}
		copy(cfg.Analog.Attenuations[:], fc.Attenuations)
	}
	if fc.Feedbacks != nil {
		if len(fc.Feedbacks) > ad5933.NumFeedbacks {
			return Config{}, fmt.Errorf("board: %d резисторов обратной связи, слотов %d", len(fc.Feedbacks), ad5933.NumFeedbacks)
		}
		cfg.Analog.Feedbacks = [ad5933.NumFeedbacks]uint32{}
		copy(cfg.Analog.Feedbacks[:], fc.Feedbacks)
	}
	if fc.CouplingRCms != nil {
		if *fc.CouplingRCms < 0 {
			return Config{}, fmt.Errorf("board: отрицательная постоянная RC %g мс", *fc.CouplingRCms)
		}
		cfg.Analog.CouplingRC = time.Duration(*fc.CouplingRCms * float64(time.Millisecond))
	}
	if fc.AttenuationPins != nil {
		if len(fc.AttenuationPins) != AttenuationPins {
			return Config{}, fmt.Errorf("board: нужно %d линии аттенюатора, задано %d", AttenuationPins, len(fc.AttenuationPins))
		}
		copy(cfg.AttenuationPins[:], fc.AttenuationPins)
	}
	if fc.FeedbackPins != nil {
		if len(fc.FeedbackPins) != FeedbackPins {
			return Config{}, fmt.Errorf("board: нужно %d линии обратной связи, задано %d", FeedbackPins, len(fc.FeedbackPins))
		}
		copy(cfg.FeedbackPins[:], fc.FeedbackPins)
	}
	if fc.ClockPin != nil {
		cfg.ClockPin = *fc.ClockPin
	}
	return cfg, nil
}

func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Load(f)
}
