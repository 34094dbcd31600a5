package debugdump

import (
	"fmt"
	"path/filepath"

	"github.com/fogleman/gg"
)

// PositionSet is one table's worth of world positions to plot, already
// converted out of fixed point by the caller.
type PositionSet struct {
	Name string
	X    []float64
	Y    []float64
}

const (
	renderSize   = 512
	renderMargin = 24.0
)

var setColors = [][3]float64{
	{0.22, 0.49, 0.80},
	{0.84, 0.33, 0.22},
	{0.30, 0.66, 0.35},
	{0.60, 0.40, 0.70},
}

// RenderPositionsPNG draws a scatter plot of every set's positions at the
// diverged frame and writes it next to the JSON bundle. Purely a
// diagnostic aid for a human comparing two peers' dumps; failures are
// returned, never fatal.
func RenderPositionsPNG(dir string, frame int64, sets []PositionSet) (string, error) {
	minX, minY, maxX, maxY := bounds(sets)

	dc := gg.NewContext(renderSize, renderSize)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	spanX := maxX - minX
	spanY := maxY - minY
	if spanX == 0 {
		spanX = 1
	}
	if spanY == 0 {
		spanY = 1
	}
	scale := (renderSize - 2*renderMargin) / spanX
	if s := (renderSize - 2*renderMargin) / spanY; s < scale {
		scale = s
	}
	toPx := func(x, y float64) (float64, float64) {
		return renderMargin + (x-minX)*scale, renderSize - renderMargin - (y-minY)*scale
	}

	for i, set := range sets {
		c := setColors[i%len(setColors)]
		dc.SetRGB(c[0], c[1], c[2])
		for j := range set.X {
			px, py := toPx(set.X[j], set.Y[j])
			dc.DrawCircle(px, py, 3)
			dc.Fill()
		}
		dc.DrawString(set.Name, renderMargin, renderMargin+float64(i)*14)
	}

	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawString(fmt.Sprintf("frame %d", frame), renderMargin, float64(renderSize)-8)

	path := filepath.Join(dir, fmt.Sprintf("frame-%d-positions.png", frame))
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("debugdump: render positions: %w", err)
	}
	return path, nil
}

func bounds(sets []PositionSet) (minX, minY, maxX, maxY float64) {
	first := true
	for _, set := range sets {
		for i := range set.X {
			if first {
				minX, maxX = set.X[i], set.X[i]
				minY, maxY = set.Y[i], set.Y[i]
				first = false
				continue
			}
			if set.X[i] < minX {
				minX = set.X[i]
			}
			if set.X[i] > maxX {
				maxX = set.X[i]
			}
			if set.Y[i] < minY {
				minY = set.Y[i]
			}
			if set.Y[i] > maxY {
				maxY = set.Y[i]
			}
		}
	}
	if first {
		return -1, -1, 1, 1
	}
	return minX, minY, maxX, maxY
}
