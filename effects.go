package ledfxd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dev.acmcsuf.com/christmas/lib/xcolor"
)

// Timing holds the frame timings of the effects. Zero fields take the value
// of DefaultTiming.
type Timing struct {
	// ChaseDelay is how long the rainbow chase keeps each pixel group lit,
	// and then dark.
	ChaseDelay time.Duration
	// BreatheInterval is the breathe frame interval at full brightness.
	BreatheInterval time.Duration
	// RefreshTimeout is the timeout passed to Strip.Refresh.
	RefreshTimeout time.Duration
	// ClearTimeout is the timeout passed to Strip.Clear.
	ClearTimeout time.Duration
	// PollInterval is how often a dimmed-out breathe effect rechecks its
	// brightness.
	PollInterval time.Duration
}

// DefaultTiming is the timing used by effects unless overridden.
var DefaultTiming = Timing{
	ChaseDelay:      10 * time.Millisecond,
	BreatheInterval: 20 * time.Millisecond,
	RefreshTimeout:  100 * time.Millisecond,
	ClearTimeout:    50 * time.Millisecond,
	PollInterval:    100 * time.Millisecond,
}

func (t Timing) withDefaults() Timing {
	if t.ChaseDelay == 0 {
		t.ChaseDelay = DefaultTiming.ChaseDelay
	}
	if t.BreatheInterval == 0 {
		t.BreatheInterval = DefaultTiming.BreatheInterval
	}
	if t.RefreshTimeout == 0 {
		t.RefreshTimeout = DefaultTiming.RefreshTimeout
	}
	if t.ClearTimeout == 0 {
		t.ClearTimeout = DefaultTiming.ClearTimeout
	}
	if t.PollInterval == 0 {
		t.PollInterval = DefaultTiming.PollInterval
	}
	return t
}

// Palette binds colors and rates to the effects that need them.
type Palette struct {
	// Warm is the color of EffectAlwaysOnWarm.
	Warm xcolor.RGB
	// White is the color of EffectAlwaysOnWhite.
	White xcolor.RGB

	// Flash alternates between FlashOn and FlashOff at FlashRate Hz until
	// it is stopped.
	FlashOn   xcolor.RGB
	FlashOff  xcolor.RGB
	FlashRate int

	// Test alternates between TestOn and TestOff at TestRate Hz, TestTimes
	// times, then stops on its own.
	TestOn    xcolor.RGB
	TestOff   xcolor.RGB
	TestRate  int
	TestTimes int
}

// DefaultPalette returns the palette used unless overridden.
func DefaultPalette() Palette {
	return Palette{
		Warm:      Yellow,
		White:     White,
		FlashOn:   Yellow,
		FlashOff:  Black,
		FlashRate: 2,
		TestOn:    White,
		TestOff:   Black,
		TestRate:  2,
		TestTimes: 3,
	}
}

// Effect renders frames onto the strip of an activation until the activation
// is stopped. An error is only returned if the strip fails.
type Effect func(a *Activation) error

// effectTable maps every effect kind to its effect. Kinds without an effect
// are rendered as a no-op.
type effectTable [NumEffectKinds]Effect

func newEffectTable(p Palette) effectTable {
	return effectTable{
		EffectBreathe:       breathe,
		EffectRainbow:       rainbow,
		EffectAlwaysOnWarm:  alwaysOn(p.Warm),
		EffectAlwaysOnWhite: alwaysOn(p.White),
		EffectFlash:         flash(p.FlashOn, p.FlashOff, p.FlashRate, -1),
		EffectCircle:        nil,
		EffectTest:          flash(p.TestOn, p.TestOff, p.TestRate, p.TestTimes),
	}
}

func (t *effectTable) lookup(kind EffectKind) Effect {
	if kind < 0 || int(kind) >= len(t) {
		return nil
	}
	return t[kind]
}

// Activation is handed to an effect for a single run. It is the effect's only
// way to reach the strip and the shared state.
type Activation struct {
	ctx    context.Context
	kind   EffectKind
	strip  Strip
	state  *State
	stop   <-chan struct{}
	timing Timing
	logger *slog.Logger
}

// Kind returns the effect kind being rendered.
func (a *Activation) Kind() EffectKind { return a.kind }

// Len returns the number of pixels on the strip.
func (a *Activation) Len() int { return a.strip.Len() }

// Profile returns the current color profile.
func (a *Activation) Profile() ColorProfile { return a.state.ColorProfile() }

// Active reports whether the effect may keep rendering.
func (a *Activation) Active() bool {
	select {
	case <-a.stop:
		return false
	case <-a.ctx.Done():
		return false
	default:
		return true
	}
}

// Sleep waits for d or until the activation is stopped, whichever comes first.
// It returns whether the effect may keep rendering.
func (a *Activation) Sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-a.stop:
		return false
	case <-a.ctx.Done():
		return false
	case <-timer.C:
		return a.Active()
	}
}

// Pause waits for d regardless of whether the activation is stopped. It only
// returns false if the render loop is shutting down.
func (a *Activation) Pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-a.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Wait blocks until the activation is stopped.
func (a *Activation) Wait() {
	select {
	case <-a.stop:
	case <-a.ctx.Done():
	}
}

// Fill sets every unmasked pixel to c.
func (a *Activation) Fill(c xcolor.RGB) error {
	masked := a.state.maskFunc()
	for i := 0; i < a.strip.Len(); i++ {
		if masked(i) {
			continue
		}
		if err := a.strip.SetPixel(i, c); err != nil {
			return fmt.Errorf("failed to set pixel %d: %w", i, err)
		}
	}
	return nil
}

// Refresh flushes the pixel buffer to the strip.
func (a *Activation) Refresh() error {
	if err := a.strip.Refresh(a.timing.RefreshTimeout); err != nil {
		return fmt.Errorf("failed to refresh strip: %w", err)
	}
	framesTotal.WithLabelValues(a.kind.String()).Inc()
	return nil
}

// Clear turns the strip off.
func (a *Activation) Clear() error {
	if err := a.strip.Clear(a.timing.ClearTimeout); err != nil {
		return fmt.Errorf("failed to clear strip: %w", err)
	}
	return nil
}

// rainbow chases a rainbow along the strip, lighting every third pixel at a
// time. The hue of each pixel follows its position, and the whole rainbow
// shifts by 60° after each sweep.
func rainbow(a *Activation) error {
	a.logger.Info("rainbow chase started")

	n := a.Len()
	if n == 0 {
		a.Wait()
		return nil
	}

	var phase int
	for a.Active() {
		for group := 0; group < 3; group++ {
			masked := a.state.maskFunc()
			for i := group; i < n; i += 3 {
				if masked(i) {
					continue
				}
				hue := i*360/n + phase
				if err := a.strip.SetPixel(i, RGB(HSVToRGB(hue, 100, 100))); err != nil {
					return fmt.Errorf("failed to set pixel %d: %w", i, err)
				}
			}

			if err := a.Refresh(); err != nil {
				return err
			}
			if !a.Sleep(a.timing.ChaseDelay) {
				return nil
			}
			if err := a.Clear(); err != nil {
				return err
			}
			if !a.Sleep(a.timing.ChaseDelay) {
				return nil
			}
		}
		phase = (phase + 60) % 360
	}

	return nil
}

// breathe ramps the brightness of the profile color up and down along the
// gamma curve. The peak and the pace of the ramp both follow the profile
// brightness, so a dimmer profile breathes shallower and slower.
func breathe(a *Activation) error {
	if a.Profile().Brightness <= 0 {
		return nil
	}

	a.logger.Info("breathing started")

	step, rising := 0, true
	for a.Active() {
		profile := a.Profile()
		if profile.Brightness <= 0 {
			if !a.Sleep(a.timing.PollInterval) {
				break
			}
			continue
		}

		// The high end follows the current brightness. A ramp caught above
		// a lowered peak descends from the new peak.
		peak := (GammaSteps - 1) * profile.Brightness / 100
		if step > peak {
			step, rising = peak, false
		}

		level := GammaLookup(step)
		var r, g, b uint8
		rOn, gOn, bOn := profile.Color.Channels()
		if rOn {
			r = level
		}
		if gOn {
			g = level
		}
		if bOn {
			b = level
		}

		if err := a.Fill(RGB(r, g, b)); err != nil {
			return err
		}
		if err := a.Refresh(); err != nil {
			return err
		}

		interval := a.timing.BreatheInterval * 100 / time.Duration(profile.Brightness)
		if !a.Sleep(interval) {
			break
		}

		if rising {
			step++
		} else {
			step--
		}

		if rising && step >= peak || !rising && step <= 0 {
			rising = !rising
		}
		step = max(step, 0)
	}

	return nil
}

// alwaysOn lights the strip once with c scaled by the profile brightness,
// then holds until stopped.
func alwaysOn(c xcolor.RGB) Effect {
	return func(a *Activation) error {
		scaled := ScaleColor(c, a.Profile().Brightness)

		a.logger.Info(
			"always on",
			"color", FormatColor(c),
			"scaled", FormatColor(scaled))

		if err := a.Fill(scaled); err != nil {
			return err
		}
		if err := a.Refresh(); err != nil {
			return err
		}

		a.Wait()
		return nil
	}
}

// flash alternates the strip between two colors at rateHz. A negative times
// flashes until stopped; a positive times flashes that many on/off pairs and
// returns regardless of the status.
func flash(c1, c2 xcolor.RGB, rateHz, times int) Effect {
	return func(a *Activation) error {
		if rateHz <= 0 || times == 0 {
			return nil
		}

		a.logger.Info(
			"flashing",
			"color1", FormatColor(c1),
			"color2", FormatColor(c2),
			"rate_hz", rateHz,
			"times", times)

		delay := 500 * time.Millisecond / time.Duration(rateHz)
		colors := [2]xcolor.RGB{c1, c2}
		bounded := times > 0

		for current := 0; ; current ^= 1 {
			if bounded {
				if times == 0 {
					return nil
				}
			} else if !a.Active() {
				return nil
			}

			if err := a.Fill(colors[current]); err != nil {
				return err
			}
			if err := a.Refresh(); err != nil {
				return err
			}

			if bounded && current == 1 {
				times--
			}

			var ok bool
			if bounded {
				ok = a.Pause(delay)
			} else {
				ok = a.Sleep(delay)
			}
			if !ok {
				return nil
			}
		}
	}
}
