package main

import (
	"fmt"
	"time"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"dev.acmcsuf.com/ledfxd"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// spiFrequency is the SPI clock used to shape the NRZ pulses.
const spiFrequency = 2500 * physic.KiloHertz

// spiStrip drives a WS281x strip by encoding pixels as NRZ pulses over SPI.
type spiStrip struct {
	dev  *nrzled.Dev
	buf  []byte
	port spi.PortCloser
}

var _ ledfxd.Strip = (*spiStrip)(nil)

// openSPIStrip opens the SPI port with the given name, or the first one if
// the name is empty.
func openSPIStrip(name string, n int) (*spiStrip, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", name, err)
	}

	s, err := newSPIStrip(port, n)
	if err != nil {
		port.Close()
		return nil, err
	}

	return s, nil
}

func newSPIStrip(port spi.PortCloser, n int) (*spiStrip, error) {
	dev, err := nrzled.NewSPI(port, &nrzled.Opts{
		NumPixels: n,
		Channels:  3,
		Freq:      spiFrequency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NRZ LED device: %w", err)
	}

	return &spiStrip{
		dev:  dev,
		buf:  make([]byte, n*3),
		port: port,
	}, nil
}

func (s *spiStrip) Len() int { return len(s.buf) / 3 }

func (s *spiStrip) SetPixel(i int, color xcolor.RGB) error {
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("pixel %d out of range [0, %d)", i, s.Len())
	}

	r, g, b := ledfxd.Channels(color)
	s.buf[i*3+0] = r
	s.buf[i*3+1] = g
	s.buf[i*3+2] = b
	return nil
}

func (s *spiStrip) Refresh(timeout time.Duration) error {
	return flushWithin(timeout, func() error {
		_, err := s.dev.Write(s.buf)
		return err
	})
}

func (s *spiStrip) Clear(timeout time.Duration) error {
	clear(s.buf)
	return s.Refresh(timeout)
}

// Close turns the strip off and releases the port.
func (s *spiStrip) Close() error {
	if err := s.dev.Halt(); err != nil {
		s.port.Close()
		return fmt.Errorf("failed to halt strip: %w", err)
	}
	return s.port.Close()
}
