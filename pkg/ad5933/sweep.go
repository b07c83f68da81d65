package ad5933

import "fmt"

const (
	MaxPoints         = 511
	MaxSettlingCycles = 511
)

// SweepSpec - параметры развёртки по частоте.
type SweepSpec struct {
	Start     uint32 // Гц
	Increment uint32 // Гц
	Points    uint16
	Settling  SettlingTime
	Averages  uint16 // отсчётов на точку, 0 трактуется как 1
}

func (s SweepSpec) validate() error {
	if s.Increment == 0 {
		return fmt.Errorf("%w: нулевой шаг частоты", ErrInvalidParameter)
	}
	if s.Points == 0 || s.Points > MaxPoints {
		return fmt.Errorf("%w: число точек %d вне диапазона [1, %d]", ErrInvalidParameter, s.Points, MaxPoints)
	}
	if _, err := ClockFor(s.Start); err != nil {
		return err
	}
	last := uint64(s.Start) + uint64(s.Points-1)*uint64(s.Increment)
	if last > uint64(MaxFrequency) {
		return fmt.Errorf("%w: конечная частота %d Гц больше %d Гц", ErrInvalidParameter, last, MaxFrequency)
	}
	return nil
}

func (s SweepSpec) frequency(i int) uint32 {
	return s.Start + uint32(i)*s.Increment
}

func (s SweepSpec) averages() int {
	if s.Averages == 0 {
		return 1
	}
	return int(s.Averages)
}

// MeasureImpedance запускает развёртку. buf принадлежит драйверу до перехода в
// StateFinishedImpedance или до Reset; точка i пишется в buf[i].
func (d *Driver) MeasureImpedance(spec SweepSpec, rng RangeSettings, buf []ImpedanceSample) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if err := spec.validate(); err != nil {
		return err
	}
	if len(buf) < int(spec.Points) {
		return fmt.Errorf("%w: буфер на %d точек меньше %d", ErrInvalidParameter, len(buf), spec.Points)
	}
	settle, err := spec.Settling.Pack()
	if err != nil {
		return err
	}
	clk, err := ClockFor(spec.Start)
	if err != nil {
		return err
	}
	att, fb, err := d.board.resolve(rng)
	if err != nil {
		return err
	}
	if err := d.mux.Select(att, fb); err != nil {
		return fmt.Errorf("ad5933: выбор диапазона: %w", err)
	}

	d.resetOperation()
	d.sweep = spec
	d.out = buf[:spec.Points]
	if err := d.begin(rng, clk, spec.Start, spec.Increment, spec.Points, settle); err != nil {
		d.abort(err)
		return err
	}
	d.log.Debug().
		Uint32("start", spec.Start).
		Uint32("increment", spec.Increment).
		Uint16("points", spec.Points).
		Stringer("clock", clk).
		Msg("развёртка запущена")
	d.setState(StateMeasuringImpedance)
	return nil
}

func (d *Driver) pollSweep() error {
	if waiting, err := d.waitStart(); waiting || err != nil {
		return err
	}
	st, re, im, done, err := d.acquire(d.sweep.averages())
	if err != nil || !done {
		return err
	}
	d.out[d.point] = ImpedanceSample{Frequency: d.sweep.frequency(d.point), Real: re, Imag: im}
	d.point++
	if st.SweepComplete() || d.point >= int(d.sweep.Points) {
		return d.finish(StateFinishedImpedance)
	}

	next := d.sweep.frequency(d.point)
	clk, err := ClockFor(next)
	if err != nil {
		return err
	}
	if clk != d.clock {
		return d.retune(clk, next, d.sweep.Increment, d.sweep.Points-uint16(d.point))
	}
	return d.command(FuncIncrementFrequency)
}
