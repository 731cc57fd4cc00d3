package layout

import (
	"math"
	"time"
)

// Grid describes the vertical time grid blocks are rendered on.
type Grid struct {
	// PixelsPerHour is the height of one hour row. 60 means 1px per minute.
	PixelsPerHour float64
	// MinHeight is the smallest rendered block height in pixels. It is a
	// legibility floor, independent of the minimum event duration.
	MinHeight float64
}

// DefaultGrid is a 60px/hour grid with a 25px block floor.
var DefaultGrid = Grid{PixelsPerHour: 60, MinHeight: 25}

// PixelsPerMinute returns the vertical scale of one minute.
func (g Grid) PixelsPerMinute() float64 {
	if g.PixelsPerHour <= 0 {
		return 1
	}
	return g.PixelsPerHour / 60
}

// Block is the renderer input for one packed occurrence.
type Block struct {
	PackedOccurrence

	Top    float64
	Height float64
}

// Geometry positions p on the grid of the day starting at midnight day.
// Occurrences that spill over midnight are clipped to the day.
func (g Grid) Geometry(p PackedOccurrence, day time.Time) Block {
	next := day.AddDate(0, 0, 1)

	start := p.Start
	if start.Before(day) {
		start = day
	}
	end := p.End
	if end.After(next) {
		end = next
	}

	ppm := g.PixelsPerMinute()
	top := start.Sub(day).Minutes() * ppm
	height := math.Max(end.Sub(start).Minutes()*ppm, g.MinHeight)

	return Block{PackedOccurrence: p, Top: top, Height: height}
}

// Blocks positions every packed occurrence of one day.
func (g Grid) Blocks(dayOccs []PackedOccurrence, day time.Time) []Block {
	blocks := make([]Block, 0, len(dayOccs))
	for _, p := range dayOccs {
		blocks = append(blocks, g.Geometry(p, day))
	}
	return blocks
}
