// Package console - строковая консоль управления спектрометром поверх
// последовательного порта.
package console

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/goeis/internal/util"
	"github.com/momentics/goeis/pkg/ad5933"
	"github.com/momentics/goeis/pkg/spectrometer"
)

// ErrQuit возвращается командой quit и завершает Run без ошибки.
var ErrQuit = errors.New("console: завершение по команде")

// Hook вызывается после каждой команды; используется для метрик.
type Hook func(cmd string, elapsed time.Duration, err error)

type Option func(*Console)

func WithLogger(l zerolog.Logger) Option { return func(c *Console) { c.log = l } }

func WithHook(h Hook) Option { return func(c *Console) { c.hook = h } }

// WithTimeout ограничивает длительность одной команды.
func WithTimeout(d time.Duration) Option { return func(c *Console) { c.timeout = d } }

type Console struct {
	port    util.SerialPortInterface
	an      *spectrometer.Analyzer
	log     zerolog.Logger
	hook    Hook
	timeout time.Duration

	last *spectrometer.Spectrum
}

type command struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string, out *bytes.Buffer) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":   {"help", "список команд", (*Console).help},
		"init":   {"init", "сброс и инициализация AD5933", (*Console).initDevice},
		"status": {"status", "состояние драйвера, диапазон и профиль", (*Console).status},
		"reset":  {"reset", "прервать текущую операцию", (*Console).reset},
		"range":  {"range <Ом> <ослабление> <pga 1|5> <вых 2|1|0.4|0.2>", "выбрать измерительный диапазон", (*Console).setRange},
		"sweep":  {"sweep <старт Гц> <стоп Гц> <точек> [усреднений]", "развёртка по частоте", (*Console).sweep},
		"temp":   {"temp", "температура кристалла", (*Console).temp},
		"cal":    {"cal <Ом> <f1 Гц> <f2 Гц> [1|2]", "калибровка по эталону, по умолчанию двухточечная", (*Console).calibrate},
		"gain":   {"gain", "коэффициенты усиления активного профиля", (*Console).gain},
		"save":   {"save <файл>", "сохранить профиль калибровки", (*Console).save},
		"load":   {"load <файл>", "загрузить профиль калибровки", (*Console).load},
		"export": {"export <файл>", "выгрузить последнюю развёртку в Touchstone", (*Console).export},
		"quit":   {"quit", "завершить работу", func(*Console, context.Context, []string, *bytes.Buffer) error { return ErrQuit }},
	}
}

func New(port util.SerialPortInterface, an *spectrometer.Analyzer, opts ...Option) *Console {
	c := &Console{port: port, an: an, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run читает команды построчно до конца потока, quit или отмены ctx.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.port)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.Execute(ctx, scanner.Text())
		if errors.Is(err, ErrQuit) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("console: ошибка чтения: %w", err)
	}
	return nil
}

// Execute выполняет одну строку и пишет ответ в порт. Ответ на ошибку
// начинается с "error:".
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	cmd, ok := commands[name]
	if !ok {
		err := fmt.Errorf("неизвестная команда %q, см. help", name)
		c.reply(nil, err)
		return err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	start := time.Now()
	err := cmd.run(c, ctx, args, &out)
	elapsed := time.Since(start)
	if c.hook != nil && !errors.Is(err, ErrQuit) {
		c.hook(name, elapsed, err)
	}
	if errors.Is(err, ErrQuit) {
		c.reply(&out, nil)
		return err
	}
	c.log.Debug().Str("cmd", name).Dur("elapsed", elapsed).Err(err).Msg("команда выполнена")
	c.reply(&out, err)
	return err
}

func (c *Console) reply(out *bytes.Buffer, err error) {
	var b bytes.Buffer
	if out != nil {
		b.Write(out.Bytes())
	}
	if err != nil {
		fmt.Fprintf(&b, "error: %v\n", err)
	} else {
		b.WriteString("ok\n")
	}
	if _, werr := c.port.Write(b.Bytes()); werr != nil {
		c.log.Error().Err(werr).Msg("ошибка записи в порт консоли")
	}
}

func (c *Console) help(_ context.Context, _ []string, out *bytes.Buffer) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(out, "%-56s %s\n", commands[n].usage, commands[n].help)
	}
	return nil
}

func (c *Console) initDevice(_ context.Context, _ []string, _ *bytes.Buffer) error {
	return c.an.Init()
}

func (c *Console) status(_ context.Context, _ []string, out *bytes.Buffer) error {
	r := c.an.Range()
	fmt.Fprintf(out, "state %s, progress %d\n", c.an.State(), c.an.Progress())
	fmt.Fprintf(out, "range %d Ohm, attenuation %d, pga %s, output %s\n", r.Feedback, r.Attenuation, pgaName(r.Gain), voltageName(r.Voltage))
	if p := c.an.Profile(); p != nil {
		fmt.Fprintf(out, "profile %q, %g Ohm, %s\n", p.Name, p.Data.Impedance, p.CreatedAt.Format(time.RFC3339))
	} else {
		out.WriteString("profile none\n")
	}
	return nil
}

func (c *Console) reset(_ context.Context, _ []string, _ *bytes.Buffer) error {
	return c.an.Reset()
}

func (c *Console) setRange(_ context.Context, args []string, _ *bytes.Buffer) error {
	if err := want(args, 4, 4); err != nil {
		return err
	}
	fb, err := parseUint(args[0], "сопротивление")
	if err != nil {
		return err
	}
	att, err := parseUint(args[1], "ослабление")
	if err != nil {
		return err
	}
	var r ad5933.RangeSettings
	r.Feedback, r.Attenuation = fb, att
	switch args[2] {
	case "1":
		r.Gain = ad5933.PGAx1
	case "5":
		r.Gain = ad5933.PGAx5
	default:
		return fmt.Errorf("усиление PGA %q, допустимо 1 или 5", args[2])
	}
	switch args[3] {
	case "2":
		r.Voltage = ad5933.Range2Vpp
	case "1":
		r.Voltage = ad5933.Range1Vpp
	case "0.4":
		r.Voltage = ad5933.Range400mVp
	case "0.2":
		r.Voltage = ad5933.Range200mVp
	default:
		return fmt.Errorf("выходной уровень %q, допустимо 2, 1, 0.4 или 0.2", args[3])
	}
	c.an.SetRange(r)
	return nil
}

func (c *Console) sweep(ctx context.Context, args []string, out *bytes.Buffer) error {
	if err := want(args, 3, 4); err != nil {
		return err
	}
	var cfg spectrometer.SweepConfig
	var err error
	if cfg.Start, err = parseUint(args[0], "начальная частота"); err != nil {
		return err
	}
	if cfg.Stop, err = parseUint(args[1], "конечная частота"); err != nil {
		return err
	}
	if cfg.Points, err = parseUint16(args[2], "число точек"); err != nil {
		return err
	}
	if len(args) == 4 {
		if cfg.Averages, err = parseUint16(args[3], "число усреднений"); err != nil {
			return err
		}
	}
	cfg.Settling = ad5933.SettlingTime{Cycles: 15, Multiplier: ad5933.SettleX1}

	sp, err := c.an.Sweep(ctx, cfg)
	if err != nil {
		return err
	}
	c.last = &sp
	if sp.Impedance == nil {
		for _, s := range sp.Raw {
			fmt.Fprintf(out, "%d %d %d\n", s.Frequency, s.Real, s.Imag)
		}
		return nil
	}
	for _, z := range sp.Impedance {
		fmt.Fprintf(out, "%d %.6g %.3f\n", z.Frequency, z.Magnitude, z.Angle*180/math.Pi)
	}
	return nil
}

func (c *Console) temp(ctx context.Context, _ []string, out *bytes.Buffer) error {
	t, err := c.an.Temperature(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "temperature %.2f C\n", t)
	return nil
}

func (c *Console) calibrate(ctx context.Context, args []string, out *bytes.Buffer) error {
	if err := want(args, 3, 4); err != nil {
		return err
	}
	z, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("не удалось распарсить сопротивление эталона %q: %w", args[0], err)
	}
	spec := ad5933.CalibrationSpec{Impedance: z, TwoPoint: true}
	if spec.Freq1, err = parseUint(args[1], "частота f1"); err != nil {
		return err
	}
	if spec.Freq2, err = parseUint(args[2], "частота f2"); err != nil {
		return err
	}
	if len(args) == 4 {
		switch args[3] {
		case "1":
			spec.TwoPoint = false
		case "2":
		default:
			return fmt.Errorf("число точек калибровки %q, допустимо 1 или 2", args[3])
		}
	}
	name := fmt.Sprintf("%gR-%d-%d", z, spec.Freq1, spec.Freq2)
	p, err := c.an.Calibrate(ctx, name, spec)
	if err != nil {
		return err
	}
	writeGain(out, p)
	return nil
}

func (c *Console) gain(_ context.Context, _ []string, out *bytes.Buffer) error {
	p := c.an.Profile()
	if p == nil {
		return errors.New("профиль калибровки не загружен")
	}
	writeGain(out, p)
	return nil
}

func writeGain(out *bytes.Buffer, p *spectrometer.CalibrationProfile) {
	fmt.Fprintf(out, "profile %q, %g Ohm, two-point %t\n", p.Name, p.Data.Impedance, p.Data.TwoPoint)
	for c := ad5933.ClockInternal; c < ad5933.NumClockSources; c++ {
		if !p.Gain.Calibrated(c) {
			fmt.Fprintf(out, "%-10s -\n", c)
			continue
		}
		g := p.Gain.Ranges[c]
		fmt.Fprintf(out, "%-10s anchor %g Hz, gain %.6g %+.6g/Hz, phase %.4f %+.6f deg/Hz\n",
			c, g.Anchor, g.MagnitudeOffset, g.MagnitudeSlope,
			g.PhaseOffset*180/math.Pi, g.PhaseSlope*180/math.Pi)
	}
}

func (c *Console) save(_ context.Context, args []string, _ *bytes.Buffer) error {
	if err := want(args, 1, 1); err != nil {
		return err
	}
	p := c.an.Profile()
	if p == nil {
		return errors.New("профиль калибровки не загружен")
	}
	return spectrometer.SaveProfile(args[0], p)
}

func (c *Console) load(_ context.Context, args []string, out *bytes.Buffer) error {
	if err := want(args, 1, 1); err != nil {
		return err
	}
	p, err := spectrometer.LoadProfile(args[0])
	if err != nil {
		return err
	}
	if err := c.an.SetProfile(p); err != nil {
		return err
	}
	if p.Range != c.an.Range() {
		fmt.Fprintf(out, "warning: профиль снят на диапазоне %d Ohm, attenuation %d\n", p.Range.Feedback, p.Range.Attenuation)
	}
	return nil
}

func (c *Console) export(_ context.Context, args []string, _ *bytes.Buffer) error {
	if err := want(args, 1, 1); err != nil {
		return err
	}
	if c.last == nil {
		return errors.New("развёртка ещё не выполнялась")
	}
	ts, err := c.last.ToTouchstone()
	if err != nil {
		return err
	}
	return os.WriteFile(args[0], []byte(ts), 0o644)
}

func want(args []string, lo, hi int) error {
	if len(args) < lo || len(args) > hi {
		if lo == hi {
			return fmt.Errorf("ожидалось аргументов: %d, получено %d", lo, len(args))
		}
		return fmt.Errorf("ожидалось аргументов: от %d до %d, получено %d", lo, hi, len(args))
	}
	return nil
}

func parseUint(s, what string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("не удалось распарсить %s %q: %w", what, s, err)
	}
	return uint32(v), nil
}

func parseUint16(s, what string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("не удалось распарсить %s %q: %w", what, s, err)
	}
	return uint16(v), nil
}

func pgaName(g ad5933.PGAGain) string {
	if g == ad5933.PGAx5 {
		return "x5"
	}
	return "x1"
}

func voltageName(v ad5933.VoltageRange) string {
	switch v {
	case ad5933.Range2Vpp:
		return "2 Vpp"
	case ad5933.Range1Vpp:
		return "1 Vpp"
	case ad5933.Range400mVp:
		return "400 mVpp"
	default:
		return "200 mVpp"
	}
}
