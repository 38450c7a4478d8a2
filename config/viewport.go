package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AutoLabel marks the dynamically sized viewport.
const AutoLabel = "auto"

const minDerivedHeight = 800

// Viewport represents a screen size configuration. The zero size with the
// "auto" label means the capture is sized from the page content.
type Viewport struct {
	Width  int64
	Height int64
	Label  string
}

// AutoViewport returns the dynamic sizing sentinel.
func AutoViewport() Viewport {
	return Viewport{Label: AutoLabel}
}

// IsAuto reports whether the viewport requests dynamic sizing. The label
// alone decides.
func (v Viewport) IsAuto() bool {
	return v.Label == AutoLabel
}

func (v Viewport) String() string {
	if v.IsAuto() {
		return AutoLabel
	}
	return fmt.Sprintf("%s (%dx%d)", v.Label, v.Width, v.Height)
}

// ViewportForWidth derives a fixed viewport from a width, using a 16:9 height
// with an 800px floor.
func ViewportForWidth(width int64) Viewport {
	height := int64(math.Round(float64(width) * 9 / 16))
	if height < minDerivedHeight {
		height = minDerivedHeight
	}
	return Viewport{
		Width:  width,
		Height: height,
		Label:  fmt.Sprintf("%dw", width),
	}
}

// ParseViewports turns a list of widths into viewports. Entries may contain
// comma separated values. "auto" may appear anywhere in the list. An empty
// list, or one where nothing parses, yields the single auto viewport.
// Duplicates are dropped, keeping the first occurrence.
func ParseViewports(sizes []string) []Viewport {
	var viewports []Viewport
	seen := make(map[string]bool)

	for _, entry := range sizes {
		for _, raw := range strings.Split(entry, ",") {
			raw = strings.TrimSpace(strings.ToLower(raw))
			if raw == "" {
				continue
			}

			var vp Viewport
			if raw == AutoLabel {
				vp = AutoViewport()
			} else {
				width, err := strconv.ParseInt(strings.TrimSuffix(raw, "w"), 10, 64)
				if err != nil || width <= 0 {
					continue
				}
				vp = ViewportForWidth(width)
			}

			if seen[vp.Label] {
				continue
			}
			seen[vp.Label] = true
			viewports = append(viewports, vp)
		}
	}

	if len(viewports) == 0 {
		return []Viewport{AutoViewport()}
	}
	return viewports
}
