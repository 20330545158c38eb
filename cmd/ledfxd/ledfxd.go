package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"dev.acmcsuf.com/ledfxd"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"libdb.so/hserve"
	"libdb.so/ledctl"
)

var (
	httpAddr      = "0.0.0.0:9000"
	httpAdminAddr = "127.0.0.1:9002"
	configPath    = ""
	driver        = "ws281x"
	numPixels     = 50
	gpioPin       = 12
	spiPort       = ""
	verbose       = false
)

func init() {
	pflag.StringVarP(&httpAddr, "http-addr", "a", httpAddr, "HTTP server address")
	pflag.StringVarP(&httpAdminAddr, "http-admin-addr", "A", httpAdminAddr, "HTTP admin server address")
	pflag.StringVarP(&configPath, "config", "c", configPath, "TOML config file")
	pflag.StringVar(&driver, "driver", driver, "strip driver (ws281x or spi)")
	pflag.IntVarP(&numPixels, "num-pixels", "n", numPixels, "number of pixels on the strip")
	pflag.IntVar(&gpioPin, "gpio", gpioPin, "GPIO pin of the ws281x driver")
	pflag.StringVar(&spiPort, "spi-port", spiPort, "SPI port of the spi driver, empty for the first one")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose logging")
}

var ws281xConfig = ledctl.WS281xConfig{
	ColorOrder:   ledctl.BGROrder,
	ColorModel:   ledctl.RGBModel,
	PWMFrequency: 800000,
	DMAChannel:   10,
}

func main() {
	log.SetFlags(0)
	pflag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05 PM", // extended time.Kitchen
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := resolveConfig(pflag.CommandLine, stripConfig{
		Driver:    driver,
		NumPixels: numPixels,
		GPIO:      gpioPin,
		SPIPort:   spiPort,
	}, configPath)
	if err != nil {
		return err
	}

	palette, err := cfg.Palette.palette()
	if err != nil {
		return fmt.Errorf("invalid palette: %w", err)
	}

	strip, err := openStrip(cfg, logger.With("component", "strip"))
	if err != nil {
		return err
	}
	if closer, ok := strip.(io.Closer); ok {
		defer closer.Close()
	}

	state := ledfxd.NewState(ledfxd.StateOpts{
		MaskIndices: cfg.Mask,
		Logger:      logger.With("component", "state"),
	})

	engine := ledfxd.NewEngine(ledfxd.EngineOpts{
		Strip:   strip,
		State:   state,
		Palette: &palette,
		Logger:  logger.With("component", "engine"),
	})

	reports := ledfxd.NewReports(logger.With("component", "reports"))

	cmds := ledfxd.NewCommands(ledfxd.CommandsOpts{
		State:    state,
		Reporter: reports,
		Logger:   logger.With("component", "commands"),
	})

	server := ledfxd.NewServer(ledfxd.ServerOpts{
		Commands: cmds,
		Reports:  reports,
		Logger:   logger.With("component", "server"),
	})

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		logger.Info(
			"starting render loop",
			"driver", cfg.Driver,
			"num_pixels", strip.Len())

		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("render loop failed: %w", err)
		}
		return nil
	})

	errg.Go(func() error {
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}

		httpLogger := httplog.NewLogger("ledfxd", httplog.Options{
			LogLevel: logLevel,
			Concise:  true,
		})

		r := chi.NewRouter()
		r.Use(httplog.RequestLogger(httpLogger))
		r.Get("/ws", server.ServeHTTP)

		logger.Info(
			"starting public HTTP server",
			"addr", httpAddr)

		return hserve.ListenAndServe(ctx, httpAddr, r)
	})

	errg.Go(func() error {
		admin := newAdminHandler(server, state, cmds)

		logger.Info(
			"starting admin HTTP server",
			"addr", httpAdminAddr)

		return hserve.ListenAndServe(ctx, httpAdminAddr, admin)
	})

	return errg.Wait()
}

func openStrip(cfg stripConfig, logger *slog.Logger) (ledfxd.Strip, error) {
	switch cfg.Driver {
	case "ws281x":
		ws281xCfg := ws281xConfig
		ws281xCfg.NumPixels = cfg.NumPixels
		ws281xCfg.GPIOPins = []int{cfg.GPIO}

		ws281x, err := ledctl.NewWS281x(ws281xCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create a WS281x controller: %w", err)
		}

		return newWS281xStrip(ws281x, cfg.NumPixels, logger), nil

	case "spi":
		return openSPIStrip(cfg.SPIPort, cfg.NumPixels)

	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}
