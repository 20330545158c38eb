package ledfxd

import (
	"context"
	"fmt"
	"log/slog"
)

// EngineOpts are options for an engine.
type EngineOpts struct {
	// Strip is the strip to render onto. The engine must be its only writer.
	Strip Strip
	// State is the state that the engine follows.
	State *State
	// Palette overrides DefaultPalette if not nil.
	Palette *Palette
	// Timing overrides DefaultTiming field by field.
	Timing Timing
	// Logger is the logger to use for the engine.
	Logger *slog.Logger
}

// Engine is the render loop. It waits for the state to turn an effect on,
// renders it until the state turns it off, then clears the strip and
// acknowledges with StatusIdle.
type Engine struct {
	effects effectTable
	opts    EngineOpts
}

// NewEngine creates a new engine.
func NewEngine(opts EngineOpts) *Engine {
	palette := DefaultPalette()
	if opts.Palette != nil {
		palette = *opts.Palette
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Timing = opts.Timing.withDefaults()

	return &Engine{
		effects: newEffectTable(palette),
		opts:    opts,
	}
}

// Start runs the render loop until ctx is canceled, in which case it returns
// nil. Any other error comes from the strip and is fatal: the strip state is
// unknown and the loop cannot continue.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.clear(); err != nil {
		return err
	}

	for {
		act, err := e.opts.State.nextActivation(ctx)
		if err != nil {
			// only fails once ctx is done
			return nil
		}

		if err := e.render(ctx, act); err != nil {
			return fmt.Errorf("effect %v: %w", act.kind, err)
		}

		if err := e.clear(); err != nil {
			return err
		}
		e.opts.State.finish()
	}
}

func (e *Engine) render(ctx context.Context, act activation) error {
	logger := e.opts.Logger.With("effect", act.kind)

	effect := e.effects.lookup(act.kind)
	if effect == nil {
		logger.WarnContext(ctx, "no effect to render")
		return nil
	}

	logger.DebugContext(ctx, "effect activated")
	activationsTotal.WithLabelValues(act.kind.String()).Inc()

	err := effect(&Activation{
		ctx:    ctx,
		kind:   act.kind,
		strip:  e.opts.Strip,
		state:  e.opts.State,
		stop:   act.stop,
		timing: e.opts.Timing,
		logger: logger,
	})
	if err != nil {
		return err
	}

	logger.DebugContext(ctx, "effect unwound")
	return nil
}

func (e *Engine) clear() error {
	if err := e.opts.Strip.Clear(e.opts.Timing.RefreshTimeout); err != nil {
		return fmt.Errorf("failed to clear strip: %w", err)
	}
	return nil
}
