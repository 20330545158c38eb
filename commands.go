package ledfxd

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Widget and field names used in reports and remote commands.
const (
	WidgetPrimary   = "btn-open"
	WidgetSecondary = "btn-close"
	WidgetCounter   = "num-open"

	// DataBrightness is the remote data field carrying a brightness.
	DataBrightness = "bright"
	// PowerState is the report field carrying the power state.
	PowerState = "pState"

	PowerOn  = "on"
	PowerOff = "off"
)

// CommandsOpts are options for command handlers.
type CommandsOpts struct {
	// State is the state the handlers act on.
	State *State
	// Reporter receives a status document after each command. It may be nil.
	Reporter Reporter
	// Logger is the logger to use for the handlers.
	Logger *slog.Logger
	// Intn picks the effect of a primary button press. It defaults to
	// rand.Intn.
	Intn func(n int) int
}

// Commands maps inbound commands onto the state. The handlers may be called
// concurrently from any goroutine. Malformed commands are dropped.
type Commands struct {
	presses atomic.Int64
	opts    CommandsOpts
}

// NewCommands creates new command handlers.
func NewCommands(opts CommandsOpts) *Commands {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Intn == nil {
		opts.Intn = rand.Intn
	}
	return &Commands{opts: opts}
}

// OnButtonPrimary handles the primary button. Each press is counted and
// switches to a random effect.
func (c *Commands) OnButtonPrimary(ctx context.Context, state string) error {
	n := c.presses.Add(1)

	c.opts.Logger.InfoContext(ctx,
		"button pressed",
		"widget", WidgetPrimary,
		"state", state,
		"presses", n)

	c.report(ctx, map[string]any{
		WidgetPrimary: map[string]any{"switch": state},
	})
	c.report(ctx, map[string]any{
		WidgetCounter: map[string]any{
			"color": "#FF00FF",
			"text":  "button presses",
			"unit":  "times",
			"value": n,
		},
	})

	kind := EffectKind(c.opts.Intn(NumEffectKinds))
	if err := c.opts.State.RequestEffect(ctx, kind, true); err != nil {
		return err
	}

	if kind == EffectCircle {
		return c.redrawAlwaysOn(ctx)
	}
	return nil
}

// redrawAlwaysOn re-activates a lit always-on effect so that it picks up the
// current profile and mask. Always-on effects only draw once per activation.
func (c *Commands) redrawAlwaysOn(ctx context.Context) error {
	if c.opts.State.Status() != StatusOn {
		return nil
	}

	switch kind := c.opts.State.Effect(); kind {
	case EffectAlwaysOnWarm, EffectAlwaysOnWhite:
		return c.opts.State.RequestEffect(ctx, kind, true)
	}
	return nil
}

// OnButtonSecondary handles the secondary button, which turns the strip off.
func (c *Commands) OnButtonSecondary(ctx context.Context, state string) {
	c.opts.Logger.InfoContext(ctx,
		"button pressed",
		"widget", WidgetSecondary,
		"state", state)

	c.report(ctx, map[string]any{
		WidgetSecondary: map[string]any{"switch": state},
	})

	c.opts.State.StopEffect()
}

// OnRemoteData handles a JSON object pushed by the remote. If it carries a
// brightness, the brightness is updated, and a lit always-on effect is
// redrawn with it.
func (c *Commands) OnRemoteData(ctx context.Context, data []byte) error {
	c.opts.Logger.DebugContext(ctx,
		"remote data received",
		"data", string(data))

	var doc structpb.Struct
	if err := protojson.Unmarshal(data, &doc); err != nil {
		c.opts.Logger.DebugContext(ctx,
			"dropping malformed remote data",
			"error", err)
		return nil
	}

	v, ok := doc.GetFields()[DataBrightness]
	if !ok {
		return nil
	}

	brightness, ok := percentValue(v)
	if !ok {
		c.opts.Logger.DebugContext(ctx,
			"dropping invalid brightness",
			"value", v.AsInterface())
		return nil
	}

	c.opts.State.SetBrightness(brightness)

	return c.redrawAlwaysOn(ctx)
}

// OnRemotePowerCommand handles a power command: PowerOn lights the strip
// white, PowerOff turns it off. Other commands are only echoed back.
func (c *Commands) OnRemotePowerCommand(ctx context.Context, cmd string) error {
	c.opts.Logger.InfoContext(ctx,
		"power command received",
		"command", cmd)

	switch cmd {
	case PowerOn:
		if err := c.opts.State.RequestEffect(ctx, EffectAlwaysOnWhite, true); err != nil {
			return err
		}
	case PowerOff:
		c.opts.State.StopEffect()
	}

	c.report(ctx, map[string]any{PowerState: cmd})
	return nil
}

// Presses returns the number of primary button presses so far.
func (c *Commands) Presses() int64 {
	return c.presses.Load()
}

// Snapshot returns the current status document.
func (c *Commands) Snapshot() *structpb.Struct {
	s := c.opts.State
	profile := s.ColorProfile()

	doc, err := structpb.NewStruct(map[string]any{
		"status":     s.Status().String(),
		"effect":     s.Effect().String(),
		"color":      profile.Color.String(),
		"brightness": profile.Brightness,
		"masked":     s.Masked(),
		"counter":    c.presses.Load(),
	})
	if err != nil {
		// every value above is convertible
		panic(err)
	}
	return doc
}

func (c *Commands) report(ctx context.Context, fields map[string]any) {
	if c.opts.Reporter == nil {
		return
	}

	doc, err := structpb.NewStruct(fields)
	if err != nil {
		c.opts.Logger.ErrorContext(ctx,
			"failed to build report",
			"error", err)
		return
	}

	c.opts.Reporter.Report(doc)
}

// percentValue reads a number or a numeric string as a percentage clamped to
// [0, 100].
func percentValue(v *structpb.Value) (int, bool) {
	var f float64
	switch v := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f = v.NumberValue
	case *structpb.Value_StringValue:
		n, err := strconv.ParseFloat(v.StringValue, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return int(max(0, min(100, f))), true
}
