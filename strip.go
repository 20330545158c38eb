package ledfxd

import (
	"time"

	"dev.acmcsuf.com/christmas/lib/xcolor"
)

// Strip is an addressable LED strip of a fixed length. Writes go into a pixel
// buffer that is only pushed to the hardware on Refresh.
type Strip interface {
	// Len returns the number of LEDs on the strip.
	Len() int
	// SetPixel sets the buffered color of the LED at index i.
	SetPixel(i int, color xcolor.RGB) error
	// Refresh flushes the pixel buffer to the hardware.
	Refresh(timeout time.Duration) error
	// Clear turns every LED off.
	Clear(timeout time.Duration) error
}
