package ledfxd

import (
	"fmt"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"github.com/lucasb-eyer/go-colorful"
)

// Named 24-bit colors.
var (
	Black   = xcolor.RGBFromUint(0x000000)
	White   = xcolor.RGBFromUint(0xFFFFFF)
	Red     = xcolor.RGBFromUint(0xFF0000)
	Green   = xcolor.RGBFromUint(0x00FF00)
	Blue    = xcolor.RGBFromUint(0x0000FF)
	Yellow  = xcolor.RGBFromUint(0xFFFF00)
	Cyan    = xcolor.RGBFromUint(0x00FFFF)
	Magenta = xcolor.RGBFromUint(0xFF00FF)
	Purple  = xcolor.RGBFromUint(0x800080)
	Orange  = xcolor.RGBFromUint(0xFFA500)
)

// RGB packs three channels into a color.
func RGB(r, g, b uint8) xcolor.RGB {
	return xcolor.RGBFromUint(uint32(r)<<16 | uint32(g)<<8 | uint32(b))
}

// Channels splits a color into its red, green and blue channels.
func Channels(c xcolor.RGB) (r, g, b uint8) {
	u := c.ToUint()
	return uint8(u >> 16), uint8(u >> 8), uint8(u)
}

// ParseColor parses a hex color such as "#FFA500".
func ParseColor(s string) (xcolor.RGB, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return Black, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB(c.RGB255()), nil
}

// FormatColor formats a color as "#RRGGBB".
func FormatColor(c xcolor.RGB) string {
	return fmt.Sprintf("#%06X", c.ToUint()&0xFFFFFF)
}

// ScaleColor scales every channel of c by percent, which is clamped to
// [0, 100].
func ScaleColor(c xcolor.RGB, percent int) xcolor.RGB {
	percent = clampPercent(percent)
	r, g, b := Channels(c)
	return RGB(
		uint8(int(r)*percent/100),
		uint8(int(g)*percent/100),
		uint8(int(b)*percent/100),
	)
}

// HSVToRGB converts a hue in degrees and a saturation and value in percent to
// 8-bit RGB channels. The hue wraps around at 360; saturation and value are
// clamped to [0, 100].
func HSVToRGB(h, s, v int) (r, g, b uint8) {
	h %= 360
	if h < 0 {
		h += 360
	}
	s = clampPercent(s)
	v = clampPercent(v)

	hi := v * 255 / 100
	lo := hi * (100 - s) / 100

	// adjustment amount within the 60° sector
	adj := (hi - lo) * (h % 60) / 60

	var rr, gg, bb int
	switch h / 60 {
	case 0:
		rr, gg, bb = hi, lo+adj, lo
	case 1:
		rr, gg, bb = hi-adj, hi, lo
	case 2:
		rr, gg, bb = lo, hi, lo+adj
	case 3:
		rr, gg, bb = lo, hi-adj, hi
	case 4:
		rr, gg, bb = lo+adj, lo, hi
	default:
		rr, gg, bb = hi, lo, hi-adj
	}

	return uint8(rr), uint8(gg), uint8(bb)
}

// gammaTable approximates a perceptual brightness curve over 64 steps.
var gammaTable = [64]uint8{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 10,
	12, 14, 16, 18, 20, 22, 24, 26, 29, 32,
	35, 38, 41, 44, 47, 50, 53, 57, 61, 65,
	69, 73, 77, 81, 85, 89, 94, 99, 104, 109,
	114, 119, 124, 129, 134, 140, 146, 152, 158, 164,
	170, 176, 182, 188, 195, 202, 209, 216, 223, 230,
	237, 244, 251, 255,
}

// GammaSteps is the number of entries in the gamma table.
const GammaSteps = len(gammaTable)

// GammaLookup returns the gamma-corrected intensity for a step in
// [0, GammaSteps). Out of range steps are clamped.
func GammaLookup(i int) uint8 {
	i = max(0, min(i, GammaSteps-1))
	return gammaTable[i]
}

func clampPercent(p int) int {
	return max(0, min(p, 100))
}
