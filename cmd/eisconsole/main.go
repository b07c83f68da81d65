// Package main - консоль импедансного спектрометра на AD5933.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/momentics/goeis/internal/board"
	"github.com/momentics/goeis/internal/console"
	"github.com/momentics/goeis/internal/util"
	"github.com/momentics/goeis/pkg/ad5933"
	"github.com/momentics/goeis/pkg/spectrometer"
)

var log zerolog.Logger

type options struct {
	bus       string
	addr      uint
	port      string
	baud      int
	board     string
	profile   string
	metrics   string
	poll      time.Duration
	opTimeout time.Duration
	verbose   bool
	listPorts bool
}

func flags() options {
	var o options
	flag.StringVar(&o.bus, "i2c", "", "имя шины I2C в i2creg, пусто - первая доступная")
	flag.UintVar(&o.addr, "addr", uint(ad5933.DefaultAddress), "адрес AD5933 на шине")
	flag.StringVar(&o.port, "serial", "", "порт консоли, пусто - stdin/stdout")
	flag.IntVar(&o.baud, "baud", 115200, "скорость порта консоли")
	flag.StringVar(&o.board, "board", "", "JSON-описание платы")
	flag.StringVar(&o.profile, "profile", "", "профиль калибровки, загружаемый при старте")
	flag.StringVar(&o.metrics, "metrics", "", "файл метрик для textfile-коллектора node_exporter")
	flag.DurationVar(&o.poll, "poll", spectrometer.DefaultPollInterval, "период опроса драйвера")
	flag.DurationVar(&o.opTimeout, "timeout", 5*time.Minute, "предельная длительность одной команды")
	flag.BoolVar(&o.verbose, "v", false, "отладочный журнал")
	flag.BoolVar(&o.listPorts, "list-ports", false, "вывести последовательные порты и выйти")
	flag.Parse()
	return o
}

func main() {
	o := flags()

	level := zerolog.InfoLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	// Журнал в stderr: stdout может быть каналом консоли.
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(cw).Level(level).With().Timestamp().Logger()

	if o.listPorts {
		ports, err := util.ListPorts()
		if err != nil {
			log.Fatal().Err(err).Msg("не удалось получить список портов")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := board.Default()
	if o.board != "" {
		var err error
		if cfg, err = board.LoadFile(o.board); err != nil {
			log.Fatal().Err(err).Str("file", o.board).Msg("не удалось загрузить описание платы")
		}
	}

	if _, err := host.Init(); err != nil {
		log.Fatal().Err(err).Msg("не удалось инициализировать периферию")
	}
	bus, err := i2creg.Open(o.bus)
	if err != nil {
		log.Fatal().Err(err).Str("bus", o.bus).Msg("не удалось открыть шину I2C")
	}
	defer bus.Close()

	mux, clk, err := board.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("не удалось открыть линии платы")
	}
	opts := []ad5933.Option{
		ad5933.WithLogger(log.With().Str("component", "ad5933").Logger()),
		ad5933.WithMux(mux),
		ad5933.WithAddress(uint16(o.addr)),
		ad5933.WithTimeout(100 * time.Millisecond),
	}
	if clk != nil {
		opts = append(opts, ad5933.WithClock(clk))
	} else {
		log.Warn().Msg("вывод тактирования не задан, частоты ниже 10 кГц требуют внешнего генератора")
	}
	dev := ad5933.New(bus, cfg.Analog, opts...)
	if err := dev.Init(); err != nil {
		log.Fatal().Err(err).Msg("AD5933 не отвечает")
	}
	log.Info().Str("bus", bus.String()).Uint("addr", o.addr).Msg("AD5933 инициализирован")

	rng := ad5933.RangeSettings{
		Gain:        ad5933.PGAx1,
		Voltage:     ad5933.Range2Vpp,
		Attenuation: cfg.Analog.Attenuations[0],
		Feedback:    cfg.Analog.Feedbacks[0],
	}
	an := spectrometer.NewAnalyzer(dev, rng,
		spectrometer.WithPollInterval(o.poll),
		spectrometer.WithLogger(log.With().Str("component", "spectrometer").Logger()))
	if o.profile != "" {
		p, err := spectrometer.LoadProfile(o.profile)
		if err == nil {
			err = an.SetProfile(p)
		}
		if err != nil {
			log.Fatal().Err(err).Str("file", o.profile).Msg("не удалось загрузить профиль калибровки")
		}
		an.SetRange(p.Range)
		log.Info().Str("profile", p.Name).Msg("профиль калибровки загружен")
	}

	port, err := util.OpenConsolePort(o.port, o.baud)
	if err != nil {
		log.Fatal().Err(err).Str("port", o.port).Msg("не удалось открыть порт консоли")
	}

	m := newMetrics(o.metrics)
	con := console.New(port, an,
		console.WithLogger(log.With().Str("component", "console").Logger()),
		console.WithTimeout(o.opTimeout),
		console.WithHook(m.observe))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// Разблокирует чтение консоли и прерывает операцию драйвера.
		port.Close()
		an.Reset()
	}()

	log.Info().Msg("консоль запущена")
	err = con.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("консоль завершилась с ошибкой")
	}
	if err := dev.Reset(); err != nil {
		log.Warn().Err(err).Msg("не удалось перевести AD5933 в режим пониженного потребления")
	}
	log.Info().Msg("консоль остановлена")
}
