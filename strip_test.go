package ledfxd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"google.golang.org/protobuf/testing/protocmp"
)

// stripOp is a single call recorded by stripRecorder, or a status marker.
type stripOp struct {
	Op     string // "set", "refresh", "clear" or "status"
	Index  int
	Color  uint32
	Status Status
}

// stripRecorder is a Strip that records every call. It also records status
// changes when used as StateOpts.OnStatus, so that both interleave in a
// single log.
type stripRecorder struct {
	mu     sync.Mutex
	n      int
	ops    []stripOp
	pixels []uint32
	fail   string // op that fails
}

var _ Strip = (*stripRecorder)(nil)

func newStripRecorder(n int) *stripRecorder {
	return &stripRecorder{
		n:      n,
		pixels: make([]uint32, n),
	}
}

var errStripFailed = errors.New("strip failed")

func (s *stripRecorder) Len() int { return s.n }

func (s *stripRecorder) SetPixel(i int, color xcolor.RGB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail == "set" {
		return errStripFailed
	}
	if i < 0 || i >= s.n {
		return fmt.Errorf("pixel %d out of range", i)
	}
	s.pixels[i] = color.ToUint() & 0xFFFFFF
	s.ops = append(s.ops, stripOp{Op: "set", Index: i, Color: s.pixels[i]})
	return nil
}

func (s *stripRecorder) Refresh(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail == "refresh" {
		return errStripFailed
	}
	s.ops = append(s.ops, stripOp{Op: "refresh"})
	return nil
}

func (s *stripRecorder) Clear(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail == "clear" {
		return errStripFailed
	}
	clear(s.pixels)
	s.ops = append(s.ops, stripOp{Op: "clear"})
	return nil
}

func (s *stripRecorder) onStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, stripOp{Op: "status", Status: status})
}

func (s *stripRecorder) failOn(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fail = op
}

func (s *stripRecorder) log() []stripOp {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]stripOp(nil), s.ops...)
}

func (s *stripRecorder) snapshot() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uint32(nil), s.pixels...)
}

func (s *stripRecorder) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, o := range s.ops {
		if o.Op == op {
			n++
		}
	}
	return n
}

func (s *stripRecorder) statuses() []Status {
	var statuses []Status
	for _, op := range s.log() {
		if op.Op == "status" {
			statuses = append(statuses, op.Status)
		}
	}
	return statuses
}

func (s *stripRecorder) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = nil
}

// fastTiming keeps effects quick enough for tests.
var fastTiming = Timing{
	ChaseDelay:      time.Millisecond,
	BreatheInterval: time.Millisecond,
	RefreshTimeout:  time.Millisecond,
	ClearTimeout:    time.Millisecond,
	PollInterval:    time.Millisecond,
}

// startTestEngine starts an engine rendering onto strip and returns its state.
// The engine is stopped when the test ends.
func startTestEngine(t *testing.T, strip *stripRecorder, palette *Palette) *State {
	t.Helper()

	logger := slogt.New(t)

	state := NewState(StateOpts{
		Logger:   logger,
		OnStatus: strip.onStatus,
	})

	engine := NewEngine(EngineOpts{
		Strip:   strip,
		State:   state,
		Palette: palette,
		Timing:  fastTiming,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Error("engine error:", err)
		}
	})

	go func() {
		errCh <- engine.Start(ctx)
	}()

	return state
}

// testActivation creates an activation for calling an effect directly. The
// returned function stops it.
func testActivation(t *testing.T, strip Strip, state *State, kind EffectKind) (*Activation, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stop := make(chan struct{})
	var once sync.Once

	a := &Activation{
		ctx:    ctx,
		kind:   kind,
		strip:  strip,
		state:  state,
		stop:   stop,
		timing: fastTiming.withDefaults(),
		logger: slogt.New(t),
	}

	return a, func() { once.Do(func() { close(stop) }) }
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func assertEq[T any](t *testing.T, expected, actual T, opts ...cmp.Option) {
	t.Helper()

	opts = append(opts, protocmp.Transform())
	if diff := cmp.Diff(expected, actual, opts...); diff != "" {
		t.Errorf("unexpected diff (-want +got):\n%s", diff)
	}
}
