package ad5933

import (
	"fmt"
	"math"
)

const (
	// CalibrationAverages - число усредняемых отсчётов в каждой точке калибровки.
	CalibrationAverages = 16
	calibrationSettling = 15
)

// CalibrationSpec описывает калибровку по эталонному сопротивлению.
// Для одноточечной калибровки Freq2 может быть нулём.
type CalibrationSpec struct {
	Impedance float64 // Ом
	Freq1     uint32  // Гц
	Freq2     uint32  // Гц
	TwoPoint  bool
}

// GainFactorData - сырые отсчёты калибровки по диапазонам тактирования.
// Диапазон с нулевой частотой первой точки в калибровке не участвовал.
type GainFactorData struct {
	Impedance float64
	TwoPoint  bool
	Ranges    [NumClockSources][2]ImpedanceSample
}

func (g *GainFactorData) Used(c ClockSource) bool {
	return g.Ranges[c][0].Frequency != 0
}

// calibrationPlan - частоты точек калибровки по диапазонам, 0 - точки нет.
type calibrationPlan [NumClockSources][2]uint32

func (p *calibrationPlan) used(c ClockSource) bool { return p[c][0] != 0 }

// plan пересекает [Freq1, Freq2] с окном каждого источника тактирования и
// ставит точки на 1/4 и 3/4 пересечения (две точки) или в его середину.
func (s CalibrationSpec) plan() (calibrationPlan, error) {
	var p calibrationPlan
	if !(s.Impedance > 0) || math.IsInf(s.Impedance, 0) {
		return p, fmt.Errorf("%w: эталонное сопротивление %g Ом", ErrInvalidParameter, s.Impedance)
	}
	f1, f2 := s.Freq1, s.Freq2
	if s.TwoPoint {
		if f2 <= f1 {
			return p, fmt.Errorf("%w: для двухточечной калибровки нужна Freq2 > Freq1 (%d <= %d)", ErrInvalidParameter, f2, f1)
		}
	} else if f2 < f1 {
		f2 = f1
	}
	if _, err := ClockFor(f1); err != nil {
		return p, err
	}
	if _, err := ClockFor(f2); err != nil {
		return p, err
	}
	for c := ClockInternal; c < NumClockSources; c++ {
		lo, hi := c.Window()
		if c != ClockInternal {
			hi--
		}
		if f2 < lo || f1 > hi {
			continue
		}
		a, b := max(f1, lo), min(f2, hi)
		if s.TwoPoint {
			p[c] = [2]uint32{a + (b-a)/4, a + 3*(b-a)/4}
		} else {
			p[c][0] = a + (b-a)/2
		}
	}
	return p, nil
}

// next возвращает следующий после c (в сторону медленных источников) используемый диапазон.
func (p *calibrationPlan) next(c ClockSource) (ClockSource, bool) {
	for c++; c < NumClockSources; c++ {
		if p.used(c) {
			return c, true
		}
	}
	return 0, false
}

func (p *calibrationPlan) first() (ClockSource, bool) { return p.next(-1) }

// segment возвращает программу микросхемы для диапазона c.
func (d *Driver) segment(c ClockSource) (start, inc uint32, points uint16) {
	pt := d.plan[c]
	if d.cal.TwoPoint {
		return pt[0], pt[1] - pt[0], 2
	}
	return pt[0], 0, 1
}

// Calibrate запускает измерение эталона в каждом диапазоне тактирования,
// пересекающем [Freq1, Freq2]. data заполняется к StateFinishedCalibration.
func (d *Driver) Calibrate(spec CalibrationSpec, rng RangeSettings, data *GainFactorData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: не задан приёмник калибровки", ErrInvalidParameter)
	}
	plan, err := spec.plan()
	if err != nil {
		return err
	}
	first, ok := plan.first()
	if !ok {
		return fmt.Errorf("%w: интервал калибровки не пересекает ни один диапазон", ErrInvalidParameter)
	}
	att, fb, err := d.board.resolve(rng)
	if err != nil {
		return err
	}
	if err := d.mux.Select(att, fb); err != nil {
		return fmt.Errorf("ad5933: выбор диапазона: %w", err)
	}
	settle, _ := SettlingTime{Cycles: calibrationSettling, Multiplier: SettleX1}.Pack()

	d.resetOperation()
	d.cal, d.plan, d.gfd = spec, plan, data
	*data = GainFactorData{Impedance: spec.Impedance, TwoPoint: spec.TwoPoint}
	d.calRange = first
	start, inc, points := d.segment(first)
	if err := d.begin(rng, first, start, inc, points, settle); err != nil {
		d.abort(err)
		return err
	}
	d.log.Debug().
		Float64("impedance", spec.Impedance).
		Bool("two_point", spec.TwoPoint).
		Stringer("clock", first).
		Msg("калибровка запущена")
	d.setState(StateCalibrating)
	return nil
}

func (d *Driver) pollCalibration() error {
	if waiting, err := d.waitStart(); waiting || err != nil {
		return err
	}
	_, re, im, done, err := d.acquire(CalibrationAverages)
	if err != nil || !done {
		return err
	}
	c := d.calRange
	d.gfd.Ranges[c][d.calPoint] = ImpedanceSample{Frequency: d.plan[c][d.calPoint], Real: re, Imag: im}
	if d.cal.TwoPoint && d.calPoint == 0 {
		d.calPoint = 1
		return d.command(FuncIncrementFrequency)
	}

	next, ok := d.plan.next(c)
	if !ok {
		return d.finish(StateFinishedCalibration)
	}
	d.calRange, d.calPoint = next, 0
	start, inc, points := d.segment(next)
	return d.retune(next, start, inc, points)
}
