// Package ad5933 реализует драйвер преобразователя импеданса AD5933: протокол
// регистров, выбор источника тактирования, конечный автомат развёртки и
// калибровки, расчёт коэффициентов усиления и приведение импеданса.
//
// Драйвер не блокируется: операции запускаются методами Measure*/Calibrate,
// а дальше внешний код периодически вызывает Poll до состояния Finished*.
package ad5933

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var (
	ErrNotInitialized   = errors.New("ad5933: драйвер не инициализирован")
	ErrBusy             = errors.New("ad5933: выполняется другая операция")
	ErrInvalidParameter = errors.New("ad5933: некорректный параметр")
	ErrTransport        = errors.New("ad5933: ошибка обмена по шине")
)

// State - состояние конечного автомата драйвера.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateMeasuringTemperature
	StateMeasuringImpedance
	StateCalibrating
	StateFinishedTemperature
	StateFinishedImpedance
	StateFinishedCalibration
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateMeasuringTemperature:
		return "measuring-temperature"
	case StateMeasuringImpedance:
		return "measuring-impedance"
	case StateCalibrating:
		return "calibrating"
	case StateFinishedTemperature:
		return "finished-temperature"
	case StateFinishedImpedance:
		return "finished-impedance"
	case StateFinishedCalibration:
		return "finished-calibration"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Busy сообщает, выполняется ли операция.
func (s State) Busy() bool {
	return s == StateMeasuringTemperature || s == StateMeasuringImpedance || s == StateCalibrating
}

func (s State) Finished() bool {
	return s == StateFinishedTemperature || s == StateFinishedImpedance || s == StateFinishedCalibration
}

// Задержка после смены источника тактирования перед запуском развёртки.
const clockSettleDelay = 2 * time.Millisecond

type Option func(*Driver)

func WithLogger(l zerolog.Logger) Option { return func(d *Driver) { d.log = l } }

func WithClock(c ClockGenerator) Option { return func(d *Driver) { d.clkgen = c } }

func WithMux(m Mux) Option { return func(d *Driver) { d.mux = m } }

// WithTimeout ограничивает длительность одного обмена по шине.
func WithTimeout(t time.Duration) Option { return func(d *Driver) { d.regs.timeout = t } }

func WithNow(now func() time.Time) Option { return func(d *Driver) { d.now = now } }

func WithAddress(addr uint16) Option { return func(d *Driver) { d.regs.dev.Addr = addr } }

// Driver - контекст одного AD5933. Poll и операции запуска сериализуются мьютексом.
type Driver struct {
	mu     sync.Mutex
	regs   registers
	board  BoardConfig
	mux    Mux
	clkgen ClockGenerator
	log    zerolog.Logger
	now    func() time.Time

	state State
	ctrl  Control
	clock ClockSource

	// Состояние текущей операции.
	sweep    SweepSpec
	out      []ImpedanceSample
	temp     *float64
	cal      CalibrationSpec
	plan     calibrationPlan
	gfd      *GainFactorData
	calRange ClockSource
	calPoint int

	startAt      time.Time
	startPending bool
	point        int
	avg          int
	sumRe, sumIm int64
}

func New(bus i2c.Bus, board BoardConfig, opts ...Option) *Driver {
	d := &Driver{
		regs:   registers{dev: i2c.Dev{Bus: bus, Addr: DefaultAddress}},
		board:  board,
		mux:    nopMux{},
		clkgen: nopClock{},
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init сбрасывает микросхему, переключает её на внутренний генератор и
// переводит в режим пониженного потребления.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Busy() {
		return ErrBusy
	}
	d.ctrl = Control{Gain: PGAx1, Range: Range2Vpp}
	reset := d.ctrl
	reset.Reset = true
	if err := d.regs.write8(regControl+1, byte(reset.Pack())); err != nil {
		return err
	}
	if err := d.setClock(ClockInternal); err != nil {
		return err
	}
	if err := d.command(FuncPowerDown); err != nil {
		return err
	}
	if _, err := d.regs.readStatus(); err != nil {
		return err
	}
	d.resetOperation()
	d.setState(StateIdle)
	return nil
}

// Reset прерывает текущую операцию и возвращает автомат в Idle.
// Содержимое выходных буферов после последней записанной точки не определено.
func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateUninitialized {
		return ErrNotInitialized
	}
	d.resetOperation()
	d.setState(StateIdle)
	return d.command(FuncPowerDown)
}

func (d *Driver) Status() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) IsBusy() bool {
	return d.Status().Busy()
}

// SweepPointCount возвращает число точек последней запущенной развёртки.
func (d *Driver) SweepPointCount() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweep.Points
}

// Progress возвращает число уже записанных точек развёртки.
func (d *Driver) Progress() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.point
}

// MeasureTemperature запускает измерение температуры; результат будет записан
// в dest к моменту перехода в StateFinishedTemperature.
func (d *Driver) MeasureTemperature(dest *float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if dest == nil {
		return fmt.Errorf("%w: не задан приёмник температуры", ErrInvalidParameter)
	}
	d.resetOperation()
	d.temp = dest
	if err := d.command(FuncMeasureTemperature); err != nil {
		d.abort(err)
		return err
	}
	d.setState(StateMeasuringTemperature)
	return nil
}

// Poll продвигает автомат на один шаг. Ошибка обмена прерывает операцию,
// автомат возвращается в Idle.
func (d *Driver) Poll() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	switch d.state {
	case StateMeasuringTemperature:
		err = d.pollTemperature()
	case StateMeasuringImpedance:
		err = d.pollSweep()
	case StateCalibrating:
		err = d.pollCalibration()
	}
	if err != nil {
		d.abort(err)
	}
	return d.state, err
}

func (d *Driver) pollTemperature() error {
	st, err := d.regs.readStatus()
	if err != nil || !st.TemperatureValid() {
		return err
	}
	raw, err := d.regs.read16(regTemp)
	if err != nil {
		return err
	}
	*d.temp = DecodeTemperature(raw)
	return d.finish(StateFinishedTemperature)
}

func (d *Driver) ready() error {
	if d.state == StateUninitialized {
		return ErrNotInitialized
	}
	if d.state.Busy() {
		return ErrBusy
	}
	return nil
}

func (d *Driver) setState(s State) {
	if d.state != s {
		d.log.Debug().Stringer("from", d.state).Stringer("to", s).Msg("смена состояния")
	}
	d.state = s
}

func (d *Driver) resetOperation() {
	d.out, d.temp, d.gfd = nil, nil, nil
	d.plan = calibrationPlan{}
	d.calRange, d.calPoint = 0, 0
	d.startPending = false
	d.point, d.avg = 0, 0
	d.sumRe, d.sumIm = 0, 0
}

func (d *Driver) abort(err error) {
	d.log.Warn().Err(err).Stringer("state", d.state).Msg("операция прервана")
	d.resetOperation()
	d.setState(StateIdle)
}

func (d *Driver) finish(s State) error {
	if err := d.command(FuncPowerDown); err != nil {
		return err
	}
	d.startPending = false
	d.setState(s)
	return nil
}

// command записывает в регистр управления код функции вместе с текущими
// настройками PGA, диапазона и источника тактирования.
func (d *Driver) command(f Function) error {
	c := d.ctrl
	c.Function = f
	if err := d.regs.write16(regControl, c.Pack()); err != nil {
		return fmt.Errorf("ad5933: команда %s: %w", f, err)
	}
	return nil
}

func (d *Driver) setClock(c ClockSource) error {
	var err error
	if c.External() {
		err = d.clkgen.Start(physic.Frequency(c.Frequency()) * physic.Hertz)
	} else {
		err = d.clkgen.Stop()
	}
	if err != nil {
		return fmt.Errorf("%w: тактовый генератор %s: %w", ErrTransport, c, err)
	}
	d.ctrl.ExternalClock = c.External()
	if err := d.regs.write8(regControl+1, byte(d.ctrl.Pack())); err != nil {
		return err
	}
	if d.clock != c {
		d.log.Debug().Stringer("from", d.clock).Stringer("to", c).Msg("смена источника тактирования")
	}
	d.clock = c
	return nil
}

// program записывает начальную частоту, шаг и число приращений.
func (d *Driver) program(start, inc uint32, points uint16) error {
	code, err := FrequencyToRegister(start, d.clock)
	if err != nil {
		return err
	}
	if err := d.regs.write24(regStartFreq, code); err != nil {
		return err
	}
	if err := d.regs.write24(regFreqInc, incrementCode(inc, d.clock)); err != nil {
		return err
	}
	return d.regs.write16(regIncrements, points-1)
}

// incrementCode кодирует шаг. Шаг, не помещающийся в 24 бита при текущем
// источнике, всегда уводит следующую точку в другой диапазон, поэтому регистр
// просто насыщается.
func incrementCode(inc uint32, c ClockSource) uint32 {
	code, err := FrequencyToRegister(inc, c)
	if err != nil {
		return 0xFFFFFF
	}
	return code
}

// begin программирует микросхему для новой операции: разряд разделительного
// конденсатора, источник тактирования, частоты, время установления и запуск
// генератора на начальной частоте. Запуск развёртки откладывается на 4 RC.
func (d *Driver) begin(rng RangeSettings, clk ClockSource, start, inc uint32, points, settle uint16) error {
	d.ctrl.Gain, d.ctrl.Range = rng.Gain, rng.Voltage
	if err := d.command(FuncPowerDown); err != nil {
		return err
	}
	if err := d.setClock(clk); err != nil {
		return err
	}
	if err := d.program(start, inc, points); err != nil {
		return err
	}
	if err := d.regs.write16(regSettling, settle); err != nil {
		return err
	}
	if err := d.command(FuncStandby); err != nil {
		return err
	}
	if err := d.command(FuncInitStartFrequency); err != nil {
		return err
	}
	d.scheduleStart(d.board.rechargeDelay())
	return nil
}

// retune - смена источника тактирования посреди развёртки. Микросхема
// воспринимает остаток как новую развёртку; конденсатор уже заряжен.
func (d *Driver) retune(clk ClockSource, start, inc uint32, points uint16) error {
	if err := d.command(FuncStandby); err != nil {
		return err
	}
	if err := d.setClock(clk); err != nil {
		return err
	}
	if err := d.program(start, inc, points); err != nil {
		return err
	}
	if err := d.command(FuncInitStartFrequency); err != nil {
		return err
	}
	d.scheduleStart(clockSettleDelay)
	return nil
}

func (d *Driver) scheduleStart(delay time.Duration) {
	d.startAt = d.now().Add(delay)
	d.startPending = true
}

// waitStart возвращает true, пока развёртка ещё не запущена или запускается
// в этом вызове; в такой итерации регистр состояния не читается.
func (d *Driver) waitStart() (bool, error) {
	if !d.startPending {
		return false, nil
	}
	if d.now().Before(d.startAt) {
		return true, nil
	}
	d.startPending = false
	return true, d.command(FuncStartSweep)
}

// acquire читает очередной отсчёт ДПФ и копит сумму. done выставляется, когда
// набрано averages отсчётов; re/im тогда содержат среднее.
func (d *Driver) acquire(averages int) (st Status, re, im int16, done bool, err error) {
	st, err = d.regs.readStatus()
	if err != nil || !st.ImpedanceValid() {
		return st, 0, 0, false, err
	}
	r, err := d.regs.read16(regReal)
	if err != nil {
		return st, 0, 0, false, err
	}
	i, err := d.regs.read16(regImag)
	if err != nil {
		return st, 0, 0, false, err
	}
	d.sumRe += int64(int16(r))
	d.sumIm += int64(int16(i))
	d.avg++
	if d.avg < averages {
		return st, 0, 0, false, d.command(FuncRepeatFrequency)
	}
	re = int16(d.sumRe / int64(d.avg))
	im = int16(d.sumIm / int64(d.avg))
	d.avg, d.sumRe, d.sumIm = 0, 0, 0
	return st, re, im, true, nil
}
