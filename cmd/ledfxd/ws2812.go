package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"dev.acmcsuf.com/ledfxd"
	"libdb.so/ledctl"
)

// RGBController is a controller for RGB LEDs.
type RGBController interface {
	SetRGBAt(i int, color ledctl.RGB)
	Flush() error
}

// ws281xStrip drives a WS281x strip through an RGBController.
type ws281xStrip struct {
	ctrl   RGBController
	ctrlMu sync.Mutex
	n      int
	logger *slog.Logger
}

var _ ledfxd.Strip = (*ws281xStrip)(nil)

func newWS281xStrip(ctrl RGBController, n int, logger *slog.Logger) *ws281xStrip {
	return &ws281xStrip{
		ctrl:   ctrl,
		n:      n,
		logger: logger,
	}
}

func (s *ws281xStrip) Len() int { return s.n }

func (s *ws281xStrip) SetPixel(i int, color xcolor.RGB) error {
	if i < 0 || i >= s.n {
		return fmt.Errorf("pixel %d out of range [0, %d)", i, s.n)
	}

	s.ctrlMu.Lock()
	s.ctrl.SetRGBAt(i, ledctl.RGB(color))
	s.ctrlMu.Unlock()

	return nil
}

func (s *ws281xStrip) Refresh(timeout time.Duration) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	return s.flush(timeout)
}

func (s *ws281xStrip) Clear(timeout time.Duration) error {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	black := ledctl.RGB(ledfxd.Black)
	for i := 0; i < s.n; i++ {
		s.ctrl.SetRGBAt(i, black)
	}

	return s.flush(timeout)
}

func (s *ws281xStrip) flush(timeout time.Duration) error {
	start := time.Now()
	if err := flushWithin(timeout, s.ctrl.Flush); err != nil {
		return err
	}

	s.logger.Debug(
		"flushed ws281x strip",
		"took", time.Since(start))
	return nil
}

// flushWithin runs flush, giving up after timeout. A flush that timed out is
// left running: the caller is expected to treat the error as fatal.
func flushWithin(timeout time.Duration, flush func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- flush() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to flush strip: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("strip flush timed out after %v", timeout)
	}
}
