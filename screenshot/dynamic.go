package screenshot

import (
	"context"
	"fmt"
	"math"
)

// Floor of an auto-sized capture.
const (
	MinAutoWidth  = 1200
	MinAutoHeight = 800
)

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int64
	Height int64
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

type contentExtent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClampSize rounds measured extents up and applies the auto-size floor.
func ClampSize(width, height float64) Size {
	w := int64(math.Ceil(width))
	h := int64(math.Ceil(height))
	if w < MinAutoWidth {
		w = MinAutoWidth
	}
	if h < MinAutoHeight {
		h = MinAutoHeight
	}
	return Size{Width: w, Height: h}
}

// EstimateSize measures the content of the page: document metrics, the
// window, and the full extent of every overflow-scrollable element.
func EstimateSize(ctx context.Context, page Page) (Size, error) {
	var ext contentExtent
	if err := evalCall(ctx, page, &ext, contentExtentJS); err != nil {
		return Size{}, fmt.Errorf("measure content: %w", err)
	}
	return ClampSize(ext.Width, ext.Height), nil
}
