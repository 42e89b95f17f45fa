package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/yllada/vpn-dialer/common"
	"github.com/yllada/vpn-dialer/vpn"
)

// Symbol is the glyph drawn inside the shield.
type Symbol int

const (
	SymbolLock Symbol = iota
	SymbolCheckmark
	SymbolDots
)

// IconConfig defines the configuration for icon generation.
type IconConfig struct {
	Size        int
	FillColor   color.RGBA
	BorderColor color.RGBA
	AccentColor color.RGBA
	SymbolColor color.RGBA
	Symbol      Symbol
}

// ConnectedIconConfig is the green shield with a checkmark.
func ConnectedIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{56, 142, 60, 255},
		BorderColor: color.RGBA{76, 175, 80, 255},
		AccentColor: color.RGBA{200, 230, 201, 255},
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Symbol:      SymbolCheckmark,
	}
}

// ConnectingIconConfig is the amber shield shown while an operation is in flight.
func ConnectingIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{245, 124, 0, 255},
		BorderColor: color.RGBA{255, 167, 38, 255},
		AccentColor: color.RGBA{255, 224, 178, 255},
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Symbol:      SymbolDots,
	}
}

// DisconnectedIconConfig is the grey shield with a lock.
func DisconnectedIconConfig() IconConfig {
	return IconConfig{
		Size:        common.TrayIconSize,
		FillColor:   color.RGBA{117, 117, 117, 255},
		BorderColor: color.RGBA{158, 158, 158, 255},
		AccentColor: color.RGBA{189, 189, 189, 255},
		SymbolColor: color.RGBA{255, 255, 255, 255},
		Symbol:      SymbolLock,
	}
}

// IconGenerator renders tray icons as PNG.
type IconGenerator struct {
	config IconConfig
}

func NewIconGenerator(config IconConfig) *IconGenerator {
	return &IconGenerator{config: config}
}

// Generate creates a PNG icon and returns the bytes.
func (g *IconGenerator) Generate() []byte {
	img := g.Image()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		common.LogError("Failed to encode tray icon: %v", err)
		return nil
	}
	return buf.Bytes()
}

// Image draws the icon.
func (g *IconGenerator) Image() *image.RGBA {
	size := g.config.Size
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	g.drawShield(img)

	switch g.config.Symbol {
	case SymbolCheckmark:
		g.drawCheckmark(img)
	case SymbolDots:
		g.drawDots(img)
	default:
		g.drawLock(img)
	}
	return img
}

func (g *IconGenerator) drawShield(img *image.RGBA) {
	size := g.config.Size
	centerX := float64(size) / 2
	topY := 1.0
	bottomY := float64(size) - 2
	shieldWidth := float64(size) - 4

	isInShield := func(x, y float64) bool {
		relY := (y - topY) / (bottomY - topY)
		if relY < 0 || relY > 1 {
			return false
		}

		var halfWidth float64
		if relY < 0.5 {
			halfWidth = shieldWidth/2 - relY*0.5
		} else {
			progress := (relY - 0.5) * 2
			halfWidth = (shieldWidth/2 - 0.25) * (1 - progress*progress)
		}

		return x >= centerX-halfWidth && x <= centerX+halfWidth
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)+0.5, float64(y)+0.5
			if !isInShield(fx, fy) {
				continue
			}

			isBorder := !isInShield(fx-1, fy) || !isInShield(fx+1, fy) ||
				!isInShield(fx, fy-1) || !isInShield(fx, fy+1)

			switch {
			case isBorder:
				img.Set(x, y, g.config.BorderColor)
			case float64(y)/float64(size) < 0.3:
				img.Set(x, y, g.config.AccentColor)
			default:
				img.Set(x, y, g.config.FillColor)
			}
		}
	}
}

func (g *IconGenerator) plot(img *image.RGBA, x, y int) {
	if x >= 0 && x < g.config.Size && y >= 0 && y < g.config.Size {
		img.Set(x, y, g.config.SymbolColor)
	}
}

func (g *IconGenerator) drawCheckmark(img *image.RGBA) {
	points := []struct{ x, y int }{
		{6, 11}, {7, 11}, {7, 12}, {8, 12}, {8, 13}, {9, 13},
		{9, 12}, {10, 12}, {10, 11}, {11, 11}, {11, 10}, {12, 10},
		{12, 9}, {13, 9}, {13, 8}, {14, 8},
	}
	for _, p := range points {
		g.plot(img, p.x, p.y)
	}
}

// drawDots draws three 2x2 dots across the middle of the shield.
func (g *IconGenerator) drawDots(img *image.RGBA) {
	mid := g.config.Size / 2
	for _, cx := range []int{mid - 5, mid - 1, mid + 3} {
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				g.plot(img, cx+dx, mid+dy)
			}
		}
	}
}

func (g *IconGenerator) drawLock(img *image.RGBA) {
	// Body
	for y := 10; y <= 15; y++ {
		for x := 8; x <= 14; x++ {
			if y == 10 || y == 15 || x == 8 || x == 14 {
				g.plot(img, x, y)
			}
		}
	}

	// Shackle
	for y := 6; y <= 8; y++ {
		g.plot(img, 9, y)
		g.plot(img, 13, y)
	}
	for x := 9; x <= 13; x++ {
		g.plot(img, x, 6)
	}
}

// Pre-generated icons, one per visual variant.
var (
	iconDisconnected = NewIconGenerator(DisconnectedIconConfig()).Generate()
	iconConnecting   = NewIconGenerator(ConnectingIconConfig()).Generate()
	iconConnected    = NewIconGenerator(ConnectedIconConfig()).Generate()
)

// IconFor returns the tray icon for a visual variant.
func IconFor(v vpn.Visual) []byte {
	switch v {
	case vpn.VisualConnected:
		return iconConnected
	case vpn.VisualConnecting:
		return iconConnecting
	default:
		return iconDisconnected
	}
}
