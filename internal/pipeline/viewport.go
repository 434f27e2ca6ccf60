package pipeline

import "math"

// ZoomMode selects how the visible box is derived from viewport and image
// dimensions (§4.9).
type ZoomMode int

const (
	ZoomFit ZoomMode = iota
	ZoomFill
	ZoomOneToOne
	ZoomFree
)

// Viewport is the pure, lock-free geometry the GUI reads directly and the
// pipeline reads once per process loop iteration (§4.9). Nothing here
// touches a pipeline mutex.
type Viewport struct {
	Mode        ZoomMode
	Zoom        float64 // user zoom factor, meaningful only in ZoomFree
	CenterX     float64 // in [-0.5, 0.5] image-relative coordinates
	CenterY     float64
	Closeup     int // closeup factor c; window shrinks by 2^c
	BoxW, BoxH  int // viewport box in device pixels
	ImageW, ImageH int
}

// Scale derives the processed-image-to-viewport scale for the configured
// zoom mode.
func (v Viewport) Scale() float64 {
	if v.ImageW == 0 || v.ImageH == 0 || v.BoxW == 0 || v.BoxH == 0 {
		return 1
	}
	fitScale := math.Min(float64(v.BoxW)/float64(v.ImageW), float64(v.BoxH)/float64(v.ImageH))
	switch v.Mode {
	case ZoomFill:
		return math.Max(float64(v.BoxW)/float64(v.ImageW), float64(v.BoxH)/float64(v.ImageH))
	case ZoomOneToOne:
		return 1
	case ZoomFree:
		if v.Zoom <= 0 {
			return fitScale
		}
		return v.Zoom
	default:
		return fitScale
	}
}

// PreviewDownsample is the configurable downsampling factor applied before
// the preview pipeline processes a source buffer (§4.9): one of 1, 1/2,
// 1/3, 1/4.
type PreviewDownsample int

const (
	Downsample1 PreviewDownsample = 1
	Downsample2 PreviewDownsample = 2
	Downsample3 PreviewDownsample = 3
	Downsample4 PreviewDownsample = 4
)

// Factor returns the scale multiplier (1/n) for this downsample setting,
// clamping any out-of-range value to the nearest defined one.
func (d PreviewDownsample) Factor() float64 {
	switch d {
	case Downsample1:
		return 1
	case Downsample2:
		return 0.5
	case Downsample3:
		return 1.0 / 3
	case Downsample4:
		return 0.25
	default:
		if d > Downsample4 {
			return 0.25
		}
		return 1
	}
}

// boxHalfWidthRelative returns half the viewport box width expressed in
// image-relative units at the current scale, used by CheckZoomBounds.
func (v Viewport) boxHalfWidthRelative(scale float64) (halfW, halfH float64) {
	if v.ImageW == 0 || v.ImageH == 0 || scale == 0 {
		return 0, 0
	}
	closeupDiv := math.Pow(2, float64(v.Closeup))
	effW := float64(v.BoxW) / closeupDiv
	effH := float64(v.BoxH) / closeupDiv
	halfW = (effW / scale) / float64(v.ImageW) / 2
	halfH = (effH / scale) / float64(v.ImageH) / 2
	return halfW, halfH
}

// CheckZoomBounds clamps the zoom center into [boxHalf-0.5, 0.5-boxHalf]
// on each axis, forcing the center to 0 on an axis where the viewport box
// is larger than the image extent (§4.9). It returns the clamped
// viewport; the caller is responsible for writing the clamped center back
// if it differs from the input, per §4.5 step 6d's "write back any
// clamping".
func CheckZoomBounds(v Viewport) Viewport {
	scale := v.Scale()
	halfW, halfH := v.boxHalfWidthRelative(scale)

	out := v
	if halfW >= 0.5 {
		out.CenterX = 0
	} else {
		out.CenterX = clamp(v.CenterX, halfW-0.5, 0.5-halfW)
	}
	if halfH >= 0.5 {
		out.CenterY = 0
	} else {
		out.CenterY = clamp(v.CenterY, halfH-0.5, 0.5-halfH)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
