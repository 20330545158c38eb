package main

import (
	"fmt"
	"os"

	"dev.acmcsuf.com/christmas/lib/xcolor"
	"dev.acmcsuf.com/ledfxd"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// stripConfig describes the strip and its effects. It can be loaded from a
// TOML file; flags given on the command line take precedence.
type stripConfig struct {
	Driver    string        `toml:"driver"`
	NumPixels int           `toml:"num_pixels"`
	GPIO      int           `toml:"gpio"`
	SPIPort   string        `toml:"spi_port"`
	Mask      []int         `toml:"mask"`
	Palette   paletteConfig `toml:"palette"`
}

// paletteConfig overrides the default palette. Colors are hex strings such
// as "#FFA500"; empty and zero fields keep their default.
type paletteConfig struct {
	Warm      string `toml:"warm"`
	White     string `toml:"white"`
	FlashOn   string `toml:"flash_on"`
	FlashOff  string `toml:"flash_off"`
	FlashRate int    `toml:"flash_rate"`
	TestOn    string `toml:"test_on"`
	TestOff   string `toml:"test_off"`
	TestRate  int    `toml:"test_rate"`
	TestTimes int    `toml:"test_times"`
}

func loadStripConfig(path string) (stripConfig, error) {
	var cfg stripConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config %q: %w", path, err)
	}

	return cfg, nil
}

// resolveConfig merges the config file at path into cfg, which holds the flag
// values. Flags changed in flags win over the file.
func resolveConfig(flags *pflag.FlagSet, cfg stripConfig, path string) (stripConfig, error) {
	if path != "" {
		file, err := loadStripConfig(path)
		if err != nil {
			return cfg, err
		}

		if !flags.Changed("driver") && file.Driver != "" {
			cfg.Driver = file.Driver
		}
		if !flags.Changed("num-pixels") && file.NumPixels != 0 {
			cfg.NumPixels = file.NumPixels
		}
		if !flags.Changed("gpio") && file.GPIO != 0 {
			cfg.GPIO = file.GPIO
		}
		if !flags.Changed("spi-port") && file.SPIPort != "" {
			cfg.SPIPort = file.SPIPort
		}
		if file.Mask != nil {
			cfg.Mask = file.Mask
		}
		cfg.Palette = file.Palette
	}

	if cfg.NumPixels <= 0 {
		return cfg, fmt.Errorf("invalid number of pixels %d", cfg.NumPixels)
	}

	return cfg, nil
}

func (c paletteConfig) palette() (ledfxd.Palette, error) {
	p := ledfxd.DefaultPalette()

	colors := []struct {
		hex string
		dst *xcolor.RGB
	}{
		{c.Warm, &p.Warm},
		{c.White, &p.White},
		{c.FlashOn, &p.FlashOn},
		{c.FlashOff, &p.FlashOff},
		{c.TestOn, &p.TestOn},
		{c.TestOff, &p.TestOff},
	}
	for _, color := range colors {
		if color.hex == "" {
			continue
		}
		rgb, err := ledfxd.ParseColor(color.hex)
		if err != nil {
			return p, err
		}
		*color.dst = rgb
	}

	if c.FlashRate != 0 {
		p.FlashRate = c.FlashRate
	}
	if c.TestRate != 0 {
		p.TestRate = c.TestRate
	}
	if c.TestTimes != 0 {
		p.TestTimes = c.TestTimes
	}

	return p, nil
}
