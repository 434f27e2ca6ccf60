// Package builtin provides the four ImageMagick-backed operation modules
// that exercise the pipeline, cache, fingerprinting, and cancellation
// machinery end to end (§4.1 "Builtin modules").
//
// Grounded on the teacher's internal/tasks/xmp_processor.go gentle-operation
// helpers (applyExposureLook, applyColorPop, applySharpen, applyDenoise),
// adapted from one-shot file-to-file XMP-driven filters into the node
// Process ABI: incremental, cancellable, operating on an in-memory
// PixelBuffer instead of a path on disk.
package builtin

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"

	"devengine/internal/module"
)

var initOnce sync.Once

// InitMagick initializes the ImageMagick library. Called once from
// cmd/devengine/main.go before any node runs; safe to call more than once.
func InitMagick() {
	initOnce.Do(imagick.Initialize)
}

// CleanupMagick releases ImageMagick's global state. Called once at process
// shutdown.
func CleanupMagick() {
	imagick.Terminate()
}

func channelMap(channels int) string {
	switch channels {
	case 1:
		return "I"
	case 3:
		return "RGB"
	case 4:
		return "RGBA"
	default:
		return "I"
	}
}

// wandFromBuffer constitutes a MagickWand from a float32 pixel buffer; the
// caller owns the returned wand and must Destroy it.
func wandFromBuffer(buf *module.PixelBuffer) (*imagick.MagickWand, error) {
	w := imagick.NewMagickWand()
	smap := channelMap(buf.Channels)
	if err := w.ConstituteImage(uint(buf.Width), uint(buf.Height), smap, imagick.PIXEL_FLOAT, buf.Pix); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("builtin: constitute image: %w", err)
	}
	return w, nil
}

// bufferFromWand exports a wand's pixels into a freshly allocated buffer of
// the same shape as like.
func bufferFromWand(w *imagick.MagickWand, like *module.PixelBuffer) (*module.PixelBuffer, error) {
	smap := channelMap(like.Channels)
	pix, err := w.ExportImagePixels(0, 0, uint(like.Width), uint(like.Height), smap, imagick.PIXEL_FLOAT)
	if err != nil {
		return nil, fmt.Errorf("builtin: export image pixels: %w", err)
	}
	flat, ok := pix.([]float32)
	if !ok {
		return nil, fmt.Errorf("builtin: unexpected pixel export type %T", pix)
	}
	out := module.NewPixelBuffer(like.Width, like.Height, like.Channels, like.ColorSpace)
	copy(out.Pix, flat)
	return out, nil
}

// runWand applies op to a wand constituted from in and exports the result
// into a fresh buffer. It is the single-chunk cancellation boundary used by
// exposure/colorbalance/sharpen: a Shutdown observed before the call means
// the node never started touching pixels.
func runWand(in *module.PixelBuffer, node *module.NodeContext, op func(*imagick.MagickWand) error) (*module.PixelBuffer, module.Status, error) {
	if node != nil && node.Shutdown != nil && node.Shutdown.Load() {
		return nil, module.StatusInterrupted, nil
	}
	w, err := wandFromBuffer(in)
	if err != nil {
		return nil, module.StatusErr, err
	}
	defer w.Destroy()

	if err := op(w); err != nil {
		return nil, module.StatusErr, fmt.Errorf("builtin: apply op: %w", err)
	}

	out, err := bufferFromWand(w, in)
	if err != nil {
		return nil, module.StatusErr, err
	}
	return out, module.StatusOk, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
