package main

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"dev.acmcsuf.com/ledfxd"
)

// memStrip is a strip kept in memory. Every refresh commits the pixel buffer
// as a frame and calls onFrame.
type memStrip struct {
	mu      sync.Mutex
	buffer  []xcolor.RGB
	frame   []xcolor.RGB
	onFrame func()
}

var _ ledfxd.Strip = (*memStrip)(nil)

func newMemStrip(n int, onFrame func()) *memStrip {
	s := &memStrip{
		buffer:  make([]xcolor.RGB, n),
		frame:   make([]xcolor.RGB, n),
		onFrame: onFrame,
	}
	for i := range s.buffer {
		s.buffer[i] = ledfxd.Black
		s.frame[i] = ledfxd.Black
	}
	return s
}

func (s *memStrip) Len() int { return len(s.buffer) }

func (s *memStrip) SetPixel(i int, color xcolor.RGB) error {
	if i < 0 || i >= len(s.buffer) {
		return fmt.Errorf("pixel %d out of range [0, %d)", i, len(s.buffer))
	}

	s.mu.Lock()
	s.buffer[i] = color
	s.mu.Unlock()

	return nil
}

func (s *memStrip) Refresh(time.Duration) error {
	s.mu.Lock()
	copy(s.frame, s.buffer)
	s.mu.Unlock()

	s.onFrame()
	return nil
}

func (s *memStrip) Clear(timeout time.Duration) error {
	s.mu.Lock()
	for i := range s.buffer {
		s.buffer[i] = ledfxd.Black
	}
	s.mu.Unlock()

	return s.Refresh(timeout)
}

// Frame returns a copy of the last committed frame.
func (s *memStrip) Frame() []xcolor.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.frame)
}
