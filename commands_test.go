package ledfxd

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/neilotoole/slogt"
	"google.golang.org/protobuf/types/known/structpb"
)

type reportRecorder struct {
	mu   sync.Mutex
	docs []*structpb.Struct
}

func (r *reportRecorder) Report(doc *structpb.Struct) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.docs = append(r.docs, doc)
}

func (r *reportRecorder) reports() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	reports := make([]map[string]any, len(r.docs))
	for i, doc := range r.docs {
		reports[i] = doc.AsMap()
	}
	return reports
}

func newTestCommands(t *testing.T, state *State, intn func(int) int) (*Commands, *reportRecorder) {
	t.Helper()

	reports := &reportRecorder{}
	cmds := NewCommands(CommandsOpts{
		State:    state,
		Reporter: reports,
		Logger:   slogt.New(t),
		Intn:     intn,
	})
	return cmds, reports
}

func TestCommandsButtonPrimary(t *testing.T) {
	state := NewState(StateOpts{Logger: slogt.New(t)})

	var bound int
	cmds, reports := newTestCommands(t, state, func(n int) int {
		bound = n
		return int(EffectRainbow)
	})

	if err := cmds.OnButtonPrimary(context.Background(), "tap"); err != nil {
		t.Fatal("unexpected error:", err)
	}

	assertEq(t, NumEffectKinds, bound)
	assertEq(t, StatusOn, state.Status())
	assertEq(t, EffectRainbow, state.Effect())
	assertEq(t, int64(1), cmds.Presses())

	assertEq(t, []map[string]any{
		{WidgetPrimary: map[string]any{"switch": "tap"}},
		{WidgetCounter: map[string]any{
			"color": "#FF00FF",
			"text":  "button presses",
			"unit":  "times",
			"value": 1.0,
		}},
	}, reports.reports())
}

func TestCommandsButtonPrimaryCircle(t *testing.T) {
	state := NewState(StateOpts{Logger: slogt.New(t)})
	cmds, _ := newTestCommands(t, state, func(int) int { return int(EffectCircle) })

	if err := cmds.OnButtonPrimary(context.Background(), "tap"); err != nil {
		t.Fatal("unexpected error:", err)
	}

	assertEq(t, true, state.Masked())
	assertEq(t, StatusOff, state.Status())
	assertEq(t, EffectAlwaysOnWarm, state.Effect())
}

func TestCommandsButtonPrimaryCircleRedrawsAlwaysOn(t *testing.T) {
	strip := newStripRecorder(18)
	state := startTestEngine(t, strip, nil)
	cmds, _ := newTestCommands(t, state, func(int) int { return int(EffectCircle) })
	ctx := context.Background()

	if err := state.RequestEffect(ctx, EffectAlwaysOnWhite, true); err != nil {
		t.Fatal("unexpected error:", err)
	}
	waitUntil(t, "the white frame", func() bool { return strip.count("refresh") == 1 })

	if err := cmds.OnButtonPrimary(ctx, "tap"); err != nil {
		t.Fatal("unexpected error:", err)
	}

	waitUntil(t, "the masked frame", func() bool { return strip.count("refresh") == 2 })
	assertEq(t, true, state.Masked())
	assertEq(t, StatusOn, state.Status())
	assertEq(t, EffectAlwaysOnWhite, state.Effect())

	for i, px := range strip.snapshot() {
		want := uint32(0xFFFFFF)
		if slices.Contains(DefaultMaskIndices, i) {
			want = 0
		}
		if px != want {
			t.Errorf("pixel %d = %06X, want %06X", i, px, want)
		}
	}
}

func TestCommandsButtonSecondary(t *testing.T) {
	state := NewState(StateOpts{Logger: slogt.New(t)})
	cmds, reports := newTestCommands(t, state, nil)

	if err := state.RequestEffect(context.Background(), EffectBreathe, true); err != nil {
		t.Fatal("unexpected error:", err)
	}

	cmds.OnButtonSecondary(context.Background(), "tap")

	assertEq(t, StatusOff, state.Status())
	assertEq(t, []map[string]any{
		{WidgetSecondary: map[string]any{"switch": "tap"}},
	}, reports.reports())
}

func TestCommandsRemoteData(t *testing.T) {
	tests := []struct {
		name string
		data string
		want int
	}{
		{"number", `{"bright": 40}`, 40},
		{"string", `{"bright": "25"}`, 25},
		{"clamped", `{"bright": 900}`, 100},
		{"huge", `{"bright": 1e300}`, 100},
		{"huge negative", `{"bright": -1e300}`, 0},
		{"fractional string", `{"bright": "12.5"}`, 12},
		{"huge string", `{"bright": "1e300"}`, 100},
		{"missing", `{"color": "red"}`, 70},
		{"malformed", `{"bright": `, 70},
		{"not an object", `[1, 2, 3]`, 70},
		{"invalid", `{"bright": true}`, 70},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			state := NewState(StateOpts{Logger: slogt.New(t)})
			state.SetBrightness(70)

			cmds, _ := newTestCommands(t, state, nil)
			if err := cmds.OnRemoteData(context.Background(), []byte(test.data)); err != nil {
				t.Fatal("unexpected error:", err)
			}

			assertEq(t, test.want, state.ColorProfile().Brightness)
			assertEq(t, StatusOff, state.Status())
		})
	}
}

func TestCommandsRemoteDataRedrawsAlwaysOn(t *testing.T) {
	strip := newStripRecorder(4)
	state := startTestEngine(t, strip, nil)
	cmds, _ := newTestCommands(t, state, nil)
	ctx := context.Background()

	if err := state.RequestEffect(ctx, EffectAlwaysOnWhite, true); err != nil {
		t.Fatal("unexpected error:", err)
	}
	waitUntil(t, "the white frame", func() bool { return strip.count("refresh") == 1 })

	if err := cmds.OnRemoteData(ctx, []byte(`{"bright": 50}`)); err != nil {
		t.Fatal("unexpected error:", err)
	}

	waitUntil(t, "the dimmed frame", func() bool { return strip.count("refresh") == 2 })
	assertEq(t, []uint32{0x7F7F7F, 0x7F7F7F, 0x7F7F7F, 0x7F7F7F}, strip.snapshot())
	assertEq(t, StatusOn, state.Status())
}

func TestCommandsPower(t *testing.T) {
	tests := []struct {
		name       string
		cmd        string
		start      bool
		wantStatus Status
		wantEffect EffectKind
	}{
		{"on", PowerOn, false, StatusOn, EffectAlwaysOnWhite},
		{"off", PowerOff, true, StatusOff, EffectBreathe},
		{"other", "toggle", true, StatusOn, EffectBreathe},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			state := NewState(StateOpts{Logger: slogt.New(t)})
			if test.start {
				if err := state.RequestEffect(context.Background(), EffectBreathe, true); err != nil {
					t.Fatal("unexpected error:", err)
				}
			}

			cmds, reports := newTestCommands(t, state, nil)
			if err := cmds.OnRemotePowerCommand(context.Background(), test.cmd); err != nil {
				t.Fatal("unexpected error:", err)
			}

			assertEq(t, test.wantStatus, state.Status())
			assertEq(t, test.wantEffect, state.Effect())
			assertEq(t, []map[string]any{{PowerState: test.cmd}}, reports.reports())
		})
	}
}

func TestCommandsSnapshot(t *testing.T) {
	state := NewState(StateOpts{Logger: slogt.New(t)})
	state.SetColorProfile(ColorProfile{Color: ColorBlue, Brightness: 30})
	state.SetMask(true)

	cmds, _ := newTestCommands(t, state, func(int) int { return int(EffectFlash) })
	if err := cmds.OnButtonPrimary(context.Background(), "tap"); err != nil {
		t.Fatal("unexpected error:", err)
	}

	assertEq(t, map[string]any{
		"status":     "on",
		"effect":     "flash",
		"color":      "blue",
		"brightness": 30.0,
		"masked":     true,
		"counter":    1.0,
	}, cmds.Snapshot().AsMap())
}
