package ledfxd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Status is the lifecycle of the effect currently selected.
type Status int

const (
	// StatusOff means that no effect may render. The strip stays cleared.
	StatusOff Status = iota
	// StatusOn means that the selected effect is rendering.
	StatusOn
	// StatusIdle means that the render loop has unwound the previous effect,
	// cleared the strip and is ready to start a new one.
	StatusIdle
)

func (s Status) String() string {
	switch s {
	case StatusOff:
		return "off"
	case StatusOn:
		return "on"
	case StatusIdle:
		return "idle"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// EffectKind selects the effect that runs on the next activation.
type EffectKind int

const (
	EffectBreathe EffectKind = iota
	EffectRainbow
	EffectAlwaysOnWarm
	EffectAlwaysOnWhite
	EffectFlash
	// EffectCircle is not rendered on its own. Requesting it toggles the
	// pixel mask and keeps the current effect.
	EffectCircle
	EffectTest

	// NumEffectKinds is the number of known effect kinds.
	NumEffectKinds int = iota
)

var effectNames = [...]string{
	EffectBreathe:       "breathe",
	EffectRainbow:       "rainbow",
	EffectAlwaysOnWarm:  "always-on-warm",
	EffectAlwaysOnWhite: "always-on-white",
	EffectFlash:         "flash",
	EffectCircle:        "circle",
	EffectTest:          "test",
}

func (k EffectKind) String() string {
	if k >= 0 && int(k) < len(effectNames) {
		return effectNames[k]
	}
	return fmt.Sprintf("EffectKind(%d)", int(k))
}

// ParseEffectKind parses the name of an effect kind, as returned by
// EffectKind.String.
func ParseEffectKind(name string) (EffectKind, error) {
	i := slices.Index(effectNames[:], strings.ToLower(name))
	if i == -1 {
		return 0, fmt.Errorf("unknown effect %q", name)
	}
	return EffectKind(i), nil
}

// NamedColor is a color preset for the breathe effect.
type NamedColor int

const (
	ColorWarmWhite NamedColor = iota
	ColorColdWhite
	ColorYellow
	ColorBlue
	ColorGreen
	ColorRed
)

var namedColors = [...]struct {
	name    string
	r, g, b bool
}{
	ColorWarmWhite: {"warm-white", true, true, true},
	ColorColdWhite: {"cold-white", false, true, true},
	ColorYellow:    {"yellow", true, true, false},
	ColorBlue:      {"blue", false, false, true},
	ColorGreen:     {"green", false, true, false},
	ColorRed:       {"red", true, false, false},
}

func (c NamedColor) String() string {
	if c >= 0 && int(c) < len(namedColors) {
		return namedColors[c].name
	}
	return fmt.Sprintf("NamedColor(%d)", int(c))
}

// Channels reports which of the red, green and blue channels the preset
// lights up. Unknown presets light up all three.
func (c NamedColor) Channels() (r, g, b bool) {
	if c >= 0 && int(c) < len(namedColors) {
		nc := namedColors[c]
		return nc.r, nc.g, nc.b
	}
	return true, true, true
}

// ParseNamedColor parses the name of a color preset.
func ParseNamedColor(name string) (NamedColor, error) {
	for i, nc := range namedColors {
		if strings.EqualFold(nc.name, name) {
			return NamedColor(i), nil
		}
	}
	return 0, fmt.Errorf("unknown color %q", name)
}

// ColorProfile holds the parameters of the breathe and always-on effects.
type ColorProfile struct {
	Color NamedColor
	// Brightness is in percent, [0, 100].
	Brightness int
}

// DefaultColorProfile is the profile that a new State starts with.
var DefaultColorProfile = ColorProfile{
	Color:      ColorWarmWhite,
	Brightness: 100,
}

// DefaultMaskIndices are the pixels left dark while the mask is enabled.
var DefaultMaskIndices = []int{0, 2, 14, 16}

// StateOpts are options for a State.
type StateOpts struct {
	// MaskIndices are the pixels skipped while the mask is enabled. If nil,
	// DefaultMaskIndices is used.
	MaskIndices []int
	// Logger is the logger to use for the state.
	Logger *slog.Logger
	// OnStatus is called with every status the state enters, in order. It is
	// called with the state locked and must not call back into it.
	OnStatus func(Status)
}

// State is the effect state shared between the command handlers and the
// render loop. Status is the only coordination channel between them: a new
// effect is only declared on once the render loop has acknowledged the
// previous one with StatusIdle.
type State struct {
	// switchMu serializes effect switches.
	switchMu sync.Mutex

	mu        sync.Mutex
	status    Status
	effect    EffectKind
	rendering bool // an effect was dispatched and has not been unwound yet
	ackWanted bool // a switch is waiting for StatusIdle
	changed   chan struct{}
	stop      chan struct{}
	profile   ColorProfile
	masked    bool
	mask      map[int]struct{}

	opts StateOpts
}

// NewState creates a new State that is off with the warm always-on effect
// selected.
func NewState(opts StateOpts) *State {
	if opts.MaskIndices == nil {
		opts.MaskIndices = DefaultMaskIndices
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mask := make(map[int]struct{}, len(opts.MaskIndices))
	for _, i := range opts.MaskIndices {
		mask[i] = struct{}{}
	}

	stop := make(chan struct{})
	close(stop)

	return &State{
		status:  StatusOff,
		effect:  EffectAlwaysOnWarm,
		changed: make(chan struct{}),
		stop:    stop,
		profile: DefaultColorProfile,
		mask:    mask,
		opts:    opts,
	}
}

// RequestEffect selects a new effect. Requesting EffectCircle only toggles
// the mask.
//
// If an effect is currently rendering, it is turned off and RequestEffect
// blocks until the render loop has unwound it. Then, if force is true, the new
// effect is turned on. RequestEffect only returns an error if ctx expires
// while waiting.
func (s *State) RequestEffect(ctx context.Context, kind EffectKind, force bool) error {
	if kind == EffectCircle {
		s.mu.Lock()
		s.masked = !s.masked
		s.mu.Unlock()
		return nil
	}

	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	s.effect = kind

	if s.status == StatusOn || s.rendering {
		s.ackWanted = true
		s.setStatus(StatusOff)
		s.mu.Unlock()

		s.opts.Logger.DebugContext(ctx,
			"waiting for effect to unwind",
			"next", kind)

		if err := s.waitFor(ctx, func() bool { return s.status == StatusIdle }); err != nil {
			return fmt.Errorf("waiting for idle: %w", err)
		}

		s.mu.Lock()
	}

	if force {
		s.setStatus(StatusOn)
	}
	s.mu.Unlock()

	return nil
}

// StopEffect turns the current effect off without waiting for it to unwind.
func (s *State) StopEffect() {
	s.mu.Lock()
	s.setStatus(StatusOff)
	s.mu.Unlock()
}

// SetColorProfile replaces the color profile. Running effects pick it up on
// their next frame.
func (s *State) SetColorProfile(p ColorProfile) {
	p.Brightness = clampPercent(p.Brightness)

	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
}

// SetBrightness replaces the brightness of the color profile.
func (s *State) SetBrightness(percent int) {
	s.mu.Lock()
	s.profile.Brightness = clampPercent(percent)
	s.mu.Unlock()
}

// SetMask enables or disables the pixel mask.
func (s *State) SetMask(enabled bool) {
	s.mu.Lock()
	s.masked = enabled
	s.mu.Unlock()
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Effect returns the selected effect.
func (s *State) Effect() EffectKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effect
}

// ColorProfile returns the current color profile.
func (s *State) ColorProfile() ColorProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Masked returns whether the pixel mask is enabled.
func (s *State) Masked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masked
}

// MaskIndices returns the pixels skipped while the mask is enabled.
func (s *State) MaskIndices() []int {
	return slices.Clone(s.opts.MaskIndices)
}

// maskFunc returns a snapshot of the mask. The returned function reports
// whether pixel i must be skipped.
func (s *State) maskFunc() func(i int) bool {
	s.mu.Lock()
	masked := s.masked
	s.mu.Unlock()

	if !masked {
		return func(int) bool { return false }
	}
	return func(i int) bool {
		_, ok := s.mask[i]
		return ok
	}
}

// activation is a single run of an effect, from StatusOn until the status
// leaves it.
type activation struct {
	kind EffectKind
	stop <-chan struct{}
}

// nextActivation blocks until an effect is turned on. It must only be called
// by the render loop. An acknowledgement asked for by a switch while nothing
// was rendering is given here.
func (s *State) nextActivation(ctx context.Context) (activation, error) {
	for {
		s.mu.Lock()
		if s.status == StatusOn {
			s.rendering = true
			act := activation{kind: s.effect, stop: s.stop}
			s.mu.Unlock()
			return act, nil
		}
		if s.ackWanted && s.status == StatusOff {
			s.ackWanted = false
			s.setStatus(StatusIdle)
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return activation{}, ctx.Err()
		case <-changed:
		}
	}
}

// finish marks the dispatched effect as unwound. The strip must have been
// cleared already.
func (s *State) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rendering = false
	s.ackWanted = false

	// A forced switch always waits for the acknowledgement before turning
	// the next effect on, so the status cannot be on here unless the effect
	// stopped on its own.
	s.setStatus(StatusIdle)
}

func (s *State) waitFor(ctx context.Context, cond func() bool) error {
	for {
		s.mu.Lock()
		ok := cond()
		changed := s.changed
		s.mu.Unlock()

		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// setStatus must be called with mu held.
func (s *State) setStatus(status Status) {
	if s.status == status {
		return
	}

	switch {
	case status == StatusOn:
		s.stop = make(chan struct{})
	case s.status == StatusOn:
		close(s.stop)
	}

	s.status = status
	statusGauge.Set(float64(status))

	close(s.changed)
	s.changed = make(chan struct{})

	if s.opts.OnStatus != nil {
		s.opts.OnStatus(status)
	}
}
