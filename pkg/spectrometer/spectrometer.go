// Package spectrometer - блокирующая обёртка над неблокирующим драйвером AD5933:
// цикл опроса, активный калибровочный профиль и экспорт спектров.
package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/goeis/pkg/ad5933"
)

// Device - то, что спектрометр требует от драйвера. *ad5933.Driver реализует его.
type Device interface {
	Init() error
	Reset() error
	Status() ad5933.State
	Progress() int
	Poll() (ad5933.State, error)
	MeasureImpedance(spec ad5933.SweepSpec, rng ad5933.RangeSettings, buf []ad5933.ImpedanceSample) error
	MeasureTemperature(dest *float64) error
	Calibrate(spec ad5933.CalibrationSpec, rng ad5933.RangeSettings, data *ad5933.GainFactorData) error
}

var _ Device = (*ad5933.Driver)(nil)

const DefaultPollInterval = time.Millisecond

type Option func(*Analyzer)

func WithPollInterval(d time.Duration) Option { return func(a *Analyzer) { a.interval = d } }

func WithLogger(l zerolog.Logger) Option { return func(a *Analyzer) { a.log = l } }

// Analyzer ведёт операции драйвера до конца, опрашивая его с заданным периодом.
type Analyzer struct {
	dev      Device
	interval time.Duration
	log      zerolog.Logger

	op sync.Mutex // одна операция за раз

	mu      sync.RWMutex
	rng     ad5933.RangeSettings
	profile *CalibrationProfile
}

func NewAnalyzer(dev Device, rng ad5933.RangeSettings, opts ...Option) *Analyzer {
	a := &Analyzer{dev: dev, rng: rng, interval: DefaultPollInterval, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) Init() error {
	a.op.Lock()
	defer a.op.Unlock()
	return a.dev.Init()
}

// Reset прерывает операцию драйвера. Вызывается без захвата op: операция,
// ожидающая в цикле опроса, увидит переход в Idle и завершится ошибкой.
func (a *Analyzer) Reset() error { return a.dev.Reset() }

func (a *Analyzer) State() ad5933.State { return a.dev.Status() }

func (a *Analyzer) Progress() int { return a.dev.Progress() }

func (a *Analyzer) Range() ad5933.RangeSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rng
}

// SetRange меняет измерительный диапазон. Профиль, снятый на другом диапазоне,
// остаётся загруженным, но Apply откажется его применять.
func (a *Analyzer) SetRange(r ad5933.RangeSettings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rng = r
}

func (a *Analyzer) Profile() *CalibrationProfile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile
}

func (a *Analyzer) SetProfile(p *CalibrationProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile = p
	return nil
}

// SweepConfig задаёт развёртку границами, а не шагом.
type SweepConfig struct {
	Start, Stop uint32 // Гц
	Points      uint16
	Averages    uint16
	Settling    ad5933.SettlingTime
}

// Spec переводит границы в шаг. Для одной точки Stop игнорируется.
func (c SweepConfig) Spec() (ad5933.SweepSpec, error) {
	if c.Points == 0 {
		return ad5933.SweepSpec{}, errors.New("некорректные параметры сканирования: нет точек")
	}
	s := ad5933.SweepSpec{Start: c.Start, Increment: 1, Points: c.Points, Settling: c.Settling, Averages: c.Averages}
	if c.Points > 1 {
		if c.Start >= c.Stop {
			return ad5933.SweepSpec{}, errors.New("некорректные параметры сканирования: начальная частота не меньше конечной")
		}
		s.Increment = (c.Stop - c.Start) / uint32(c.Points-1)
		if s.Increment == 0 {
			return ad5933.SweepSpec{}, fmt.Errorf("некорректные параметры сканирования: %d точек не помещаются в %d..%d Гц", c.Points, c.Start, c.Stop)
		}
	}
	return s, nil
}

// Spectrum - результат одной развёртки.
type Spectrum struct {
	Taken     time.Time
	Range     ad5933.RangeSettings
	Raw       []ad5933.ImpedanceSample
	Impedance []ad5933.ImpedancePolar // пусто, если калибровка не применялась
}

// Sweep выполняет развёртку и, если загружен подходящий профиль, приводит её к омам.
func (a *Analyzer) Sweep(ctx context.Context, cfg SweepConfig) (Spectrum, error) {
	spec, err := cfg.Spec()
	if err != nil {
		return Spectrum{}, err
	}
	rng := a.Range()

	a.op.Lock()
	defer a.op.Unlock()
	buf := make([]ad5933.ImpedanceSample, spec.Points)
	if err := a.dev.MeasureImpedance(spec, rng, buf); err != nil {
		return Spectrum{}, fmt.Errorf("запуск развёртки: %w", err)
	}
	if err := a.wait(ctx, ad5933.StateFinishedImpedance); err != nil {
		return Spectrum{}, fmt.Errorf("развёртка: %w", err)
	}
	sp := Spectrum{Taken: time.Now(), Range: rng, Raw: buf[:a.dev.Progress()]}
	if p := a.Profile(); p != nil {
		z, err := p.Apply(sp)
		if err != nil {
			a.log.Warn().Err(err).Msg("калибровка не применена")
		} else {
			sp.Impedance = z
		}
	}
	a.log.Debug().Int("points", len(sp.Raw)).Bool("calibrated", sp.Impedance != nil).Msg("развёртка завершена")
	return sp, nil
}

// Temperature измеряет температуру кристалла, °C.
func (a *Analyzer) Temperature(ctx context.Context) (float64, error) {
	a.op.Lock()
	defer a.op.Unlock()
	var t float64
	if err := a.dev.MeasureTemperature(&t); err != nil {
		return 0, fmt.Errorf("запуск измерения температуры: %w", err)
	}
	if err := a.wait(ctx, ad5933.StateFinishedTemperature); err != nil {
		return 0, fmt.Errorf("измерение температуры: %w", err)
	}
	return t, nil
}

// Calibrate снимает эталон на текущем диапазоне и делает полученный профиль активным.
func (a *Analyzer) Calibrate(ctx context.Context, name string, spec ad5933.CalibrationSpec) (*CalibrationProfile, error) {
	rng := a.Range()

	a.op.Lock()
	defer a.op.Unlock()
	p := &CalibrationProfile{Name: name, CreatedAt: time.Now(), Range: rng, Spec: spec}
	if err := a.dev.Calibrate(spec, rng, &p.Data); err != nil {
		return nil, fmt.Errorf("запуск калибровки: %w", err)
	}
	if err := a.wait(ctx, ad5933.StateFinishedCalibration); err != nil {
		return nil, fmt.Errorf("калибровка: %w", err)
	}
	p.Gain = ad5933.CalculateGainFactor(&p.Data)
	if err := a.SetProfile(p); err != nil {
		return nil, err
	}
	a.log.Info().Str("name", name).Float64("impedance", spec.Impedance).Msg("калибровка завершена")
	return p, nil
}

// wait опрашивает драйвер до состояния want. Отмена ctx прерывает операцию драйвера.
func (a *Analyzer) wait(ctx context.Context, want ad5933.State) error {
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		st, err := a.dev.Poll()
		if err != nil {
			return err
		}
		if st == want {
			return nil
		}
		if !st.Busy() {
			return fmt.Errorf("операция прервана в состоянии %s", st)
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), a.dev.Reset())
		case <-t.C:
		}
	}
}

// ToTouchstone выгружает спектр как однопортовый Z-параметр: модуль в омах и
// угол в градусах. Без калибровки выгружать нечего.
func (s *Spectrum) ToTouchstone() (string, error) {
	if len(s.Impedance) == 0 {
		return "", errors.New("спектр не откалиброван")
	}
	var sb strings.Builder
	sb.WriteString("! goeis impedance export\n")
	sb.WriteString("! Date: " + s.Taken.Format(time.RFC3339) + "\n")
	sb.WriteString(fmt.Sprintf("! Feedback: %d Ohm, attenuation: %d\n", s.Range.Feedback, s.Range.Attenuation))
	sb.WriteString("# Hz Z MA R 1\n")
	for _, p := range s.Impedance {
		sb.WriteString(fmt.Sprintf("%d %.6g %.4f\n", p.Frequency, p.Magnitude, p.Angle*180/math.Pi))
	}
	return sb.String(), nil
}
