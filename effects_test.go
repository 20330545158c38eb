package ledfxd

import (
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

func runEffect(t *testing.T, effect Effect, a *Activation) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- effect(a) }()
	return errCh
}

func waitEffect(t *testing.T, errCh <-chan error) {
	t.Helper()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatal("effect error:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("effect did not return")
	}
}

func TestBreatheZeroBrightness(t *testing.T) {
	strip := newStripRecorder(20)
	state := NewState(StateOpts{Logger: slogt.New(t)})
	state.SetBrightness(0)

	a, _ := testActivation(t, strip, state, EffectBreathe)
	waitEffect(t, runEffect(t, breathe, a))

	assertEq(t, []stripOp(nil), strip.log())
}

func TestBreatheChannelsAndPeak(t *testing.T) {
	strip := newStripRecorder(4)
	state := NewState(StateOpts{Logger: slogt.New(t)})
	state.SetColorProfile(ColorProfile{Color: ColorRed, Brightness: 50})

	a, stop := testActivation(t, strip, state, EffectBreathe)
	errCh := runEffect(t, breathe, a)

	// a full breath at 50% is 2 * 31 frames
	waitUntil(t, "a full breath", func() bool { return strip.count("refresh") >= 80 })
	stop()
	waitEffect(t, errCh)

	peak := GammaLookup((GammaSteps - 1) * 50 / 100)

	var sawPeak, sawZero bool
	for _, op := range strip.log() {
		if op.Op != "set" {
			continue
		}
		r, g, b := uint8(op.Color>>16), uint8(op.Color>>8), uint8(op.Color)
		if g != 0 || b != 0 {
			t.Fatalf("red breathe lit green or blue: %06X", op.Color)
		}
		if r > peak {
			t.Fatalf("breathe exceeded peak %d: %d", peak, r)
		}
		sawPeak = sawPeak || r == peak
		sawZero = sawZero || r == 0
	}

	if !sawPeak || !sawZero {
		t.Errorf("breathe did not span the ramp: peak=%v zero=%v", sawPeak, sawZero)
	}
}

func TestBreatheFollowsLoweredBrightness(t *testing.T) {
	strip := newStripRecorder(2)
	state := NewState(StateOpts{Logger: slogt.New(t)})

	a, stop := testActivation(t, strip, state, EffectBreathe)
	errCh := runEffect(t, breathe, a)

	// high up the ramp at full brightness
	waitUntil(t, "the ramp to rise", func() bool { return strip.count("refresh") >= 45 })
	state.SetBrightness(10)

	// The frame in flight may still use the old brightness.
	dimmedFrom := strip.count("refresh") + 1
	waitUntil(t, "two dimmed breaths", func() bool { return strip.count("refresh") >= dimmedFrom+30 })
	stop()
	waitEffect(t, errCh)

	peak := GammaLookup((GammaSteps - 1) * 10 / 100)

	var frame int
	var sawPeak, sawZero bool
	for _, op := range strip.log() {
		switch op.Op {
		case "refresh":
			frame++
		case "set":
			if frame < dimmedFrom {
				continue
			}
			level := uint8(op.Color)
			if level > peak {
				t.Fatalf("frame %d: level %d exceeds the dimmed peak %d", frame, level, peak)
			}
			sawPeak = sawPeak || level == peak
			sawZero = sawZero || level == 0
		}
	}

	if !sawPeak || !sawZero {
		t.Errorf("dimmed breathe did not span the ramp: peak=%v zero=%v", sawPeak, sawZero)
	}
}

func TestAlwaysOnScalesOnce(t *testing.T) {
	strip := newStripRecorder(8)
	state := NewState(StateOpts{Logger: slogt.New(t)})
	state.SetBrightness(50)

	a, stop := testActivation(t, strip, state, EffectAlwaysOnWarm)
	errCh := runEffect(t, alwaysOn(Orange), a)

	waitUntil(t, "the first frame", func() bool { return strip.count("refresh") == 1 })
	time.Sleep(20 * time.Millisecond)
	stop()
	waitEffect(t, errCh)

	assertEq(t, 1, strip.count("refresh"))
	assertEq(t, 8, strip.count("set"))

	for i, px := range strip.snapshot() {
		r, g, b := int(px>>16&0xFF), int(px>>8&0xFF), int(px&0xFF)
		if abs(r-128) > 1 || abs(g-83) > 1 || b != 0 {
			t.Errorf("pixel %d = %06X, want about half of FFA500", i, px)
		}
	}
}

func TestFlashBounded(t *testing.T) {
	strip := newStripRecorder(5)
	state := NewState(StateOpts{Logger: slogt.New(t)})

	// never stopped: the bounded flash must return on its own
	a, _ := testActivation(t, strip, state, EffectTest)
	waitEffect(t, runEffect(t, flash(White, Black, 100, 3), a))

	assertEq(t, 6, strip.count("refresh"))

	var colors []uint32
	for _, op := range strip.log() {
		if op.Op == "set" && op.Index == 0 {
			colors = append(colors, op.Color)
		}
	}
	assertEq(t, []uint32{0xFFFFFF, 0, 0xFFFFFF, 0, 0xFFFFFF, 0}, colors)
}

func TestFlashBoundedIgnoresStop(t *testing.T) {
	strip := newStripRecorder(5)
	state := NewState(StateOpts{Logger: slogt.New(t)})

	a, stop := testActivation(t, strip, state, EffectTest)
	stop()
	waitEffect(t, runEffect(t, flash(White, Black, 100, 2), a))

	assertEq(t, 4, strip.count("refresh"))
}

func TestFlashDegenerate(t *testing.T) {
	tests := []struct {
		name         string
		rate, times int
	}{
		{"zero rate", 0, 3},
		{"zero times", 2, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			strip := newStripRecorder(5)
			state := NewState(StateOpts{Logger: slogt.New(t)})

			a, _ := testActivation(t, strip, state, EffectFlash)
			waitEffect(t, runEffect(t, flash(White, Black, test.rate, test.times), a))

			assertEq(t, []stripOp(nil), strip.log())
		})
	}
}

func TestFlashIndefinite(t *testing.T) {
	strip := newStripRecorder(5)
	state := NewState(StateOpts{Logger: slogt.New(t)})

	a, stop := testActivation(t, strip, state, EffectFlash)
	errCh := runEffect(t, flash(Yellow, Black, 100, -1), a)

	waitUntil(t, "several flashes", func() bool { return strip.count("refresh") >= 10 })
	stop()
	waitEffect(t, errCh)
}

func TestRainbowGroups(t *testing.T) {
	const n = 12

	strip := newStripRecorder(n)
	state := NewState(StateOpts{Logger: slogt.New(t)})

	a, stop := testActivation(t, strip, state, EffectRainbow)
	errCh := runEffect(t, rainbow, a)

	waitUntil(t, "two sweeps", func() bool { return strip.count("refresh") >= 6 })
	stop()
	waitEffect(t, errCh)

	var group, frame int
	for _, op := range strip.log() {
		switch op.Op {
		case "set":
			if op.Index%3 != group {
				t.Fatalf("frame %d lit pixel %d outside group %d", frame, op.Index, group)
			}
			phase := frame / 3 * 60
			r, g, b := HSVToRGB(op.Index*360/n+phase, 100, 100)
			want := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
			if op.Color != want {
				t.Fatalf("frame %d pixel %d = %06X, want %06X", frame, op.Index, op.Color, want)
			}
		case "refresh":
			frame++
			group = frame % 3
		}
	}
}

func TestEffectsSkipMaskedPixels(t *testing.T) {
	const n = 20

	masked := map[int]bool{}
	for _, i := range DefaultMaskIndices {
		masked[i] = true
	}

	tests := []struct {
		name   string
		effect Effect
		frames int
	}{
		{"breathe", breathe, 130},
		{"rainbow", rainbow, 9},
		{"always on", alwaysOn(White), 1},
		{"flash", flash(Yellow, Black, 100, -1), 4},
		{"test", flash(White, Black, 100, 3), 6},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			strip := newStripRecorder(n)
			state := NewState(StateOpts{Logger: slogt.New(t)})
			state.SetMask(true)

			a, stop := testActivation(t, strip, state, EffectBreathe)
			errCh := runEffect(t, test.effect, a)

			waitUntil(t, "a full cycle", func() bool { return strip.count("refresh") >= test.frames })
			stop()
			waitEffect(t, errCh)

			lit := map[int]bool{}
			for _, op := range strip.log() {
				if op.Op != "set" {
					continue
				}
				if masked[op.Index] {
					t.Fatalf("masked pixel %d was written", op.Index)
				}
				lit[op.Index] = true
			}
			assertEq(t, n-len(masked), len(lit))
		})
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
