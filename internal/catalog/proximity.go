package catalog

import (
	"math"
	"strings"
)

// MaxRowDistance is the largest vertical gap, in CSS pixels, between a
// product title and an Add button on the same card.
const MaxRowDistance = 200.0

type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b Box) CenterX() float64 { return b.X + b.Width/2 }
func (b Box) CenterY() float64 { return b.Y + b.Height/2 }

type Button struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
	Box     Box    `json:"box"`
}

// PickAddButton returns the index of the visible "Add" button closest to the
// product, weighting vertical distance double. It returns -1 when no button
// shares the product's row; there is no fallback to an arbitrary button.
func PickAddButton(product Box, buttons []Button) int {
	best := -1
	bestScore := math.Inf(1)
	for i, button := range buttons {
		if !button.Visible || !strings.EqualFold(strings.TrimSpace(button.Text), "add") {
			continue
		}
		yDiff := math.Abs(button.Box.CenterY() - product.CenterY())
		if yDiff > MaxRowDistance {
			continue
		}
		xDiff := math.Abs(button.Box.CenterX() - product.CenterX())
		score := yDiff + xDiff*0.5
		if score < bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}
