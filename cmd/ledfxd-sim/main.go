package main

import (
	"context"
	"fmt"
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
)

var (
	httpAddr  = ":9001"
	numPixels = 50
	verbose   = false
)

func init() {
	pflag.StringVarP(&httpAddr, "http-addr", "a", httpAddr, "HTTP server address")
	pflag.IntVarP(&numPixels, "num-pixels", "n", numPixels, "number of simulated pixels")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose logging")
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
	if numPixels <= 0 {
		return fmt.Errorf("invalid number of pixels %d", numPixels)
	}

	h := newSimulator(numPixels, logger)

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return h.engine.Start(ctx)
	})

	errg.Go(func() error {
		httpLogger := httplog.NewLogger("ledfxd-sim", httplog.Options{
			LogLevel: level(),
			Concise:  true,
		})

		r := chi.NewRouter()
		r.Use(httplog.RequestLogger(httpLogger))
		r.Get("/session", h.handleNewSession)
		r.Get("/ws/{token}", h.handleSessionWS)

		logger.Info(
			"starting HTTP server",
			"addr", httpAddr)

		return hserve.ListenAndServe(ctx, httpAddr, r)
	})

	return errg.Wait()
}

func level() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// simulator is a sessions handler with its own render loop over an
// in-memory strip.
type simulator struct {
	*sessionsHandler
	engine *ledfxd.Engine
}

func newSimulator(n int, logger *slog.Logger) *simulator {
	h := &sessionsHandler{logger: logger.With("component", "sessions")}
	h.strip = newMemStrip(n, h.broadcastFrame)

	h.state = ledfxd.NewState(ledfxd.StateOpts{
		Logger: logger.With("component", "state"),
	})

	reports := ledfxd.NewReports(logger.With("component", "reports"))

	h.serverOpts = ledfxd.ServerOpts{
		Commands: ledfxd.NewCommands(ledfxd.CommandsOpts{
			State:    h.state,
			Reporter: reports,
			Logger:   logger.With("component", "commands"),
		}),
		Reports: reports,
	}

	engine := ledfxd.NewEngine(ledfxd.EngineOpts{
		Strip:  h.strip,
		State:  h.state,
		Logger: logger.With("component", "engine"),
	})

	return &simulator{
		sessionsHandler: h,
		engine:          engine,
	}
}
