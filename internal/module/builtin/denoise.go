package builtin

import (
	"context"
	"encoding/json"

	"gopkg.in/gographics/imagick.v3/imagick"

	"devengine/internal/module"
)

// DenoiseParams controls a DespeckleImage pass, grounded on applyDenoise's
// strength-doubling threshold. Bands splits the image into horizontal
// scanline bands so the node has real chunk boundaries to poll Shutdown at,
// per §4.1's cancellation requirement.
type DenoiseParams struct {
	Strength float32 `json:"strength"`
	Bands    int     `json:"bands"`
}

func defaultDenoiseParams() DenoiseParams { return DenoiseParams{Strength: 0.3, Bands: 4} }

func decodeDenoiseParams(b []byte) DenoiseParams {
	p := defaultDenoiseParams()
	if len(b) == 0 {
		return p
	}
	_ = json.Unmarshal(b, &p)
	if p.Bands <= 0 {
		p.Bands = 1
	}
	return p
}

// Denoise implements the denoise module via chunked DespeckleImage passes.
type Denoise struct {
	module.IdentityGeometry
}

func (Denoise) Descriptor() module.Descriptor {
	return module.Descriptor{
		Op:            "denoise",
		Version:       1,
		DefaultParams: encodeParams(defaultDenoiseParams()),
		Flags:         module.FlagAllowTiling,
	}
}

func (d Denoise) Process(ctx context.Context, inst *module.Instance, node *module.NodeContext, in, out *module.PixelBuffer, roiIn, roiOut module.ROI) (module.Status, error) {
	p := decodeDenoiseParams(inst.Params)
	bands := p.Bands
	if bands > in.Height {
		bands = in.Height
	}
	if bands < 1 {
		bands = 1
	}

	rowStride := in.Width * in.Channels

	for _, bnd := range bandRanges(in.Height, bands) {
		if node != nil && node.Shutdown != nil && node.Shutdown.Load() {
			return module.StatusInterrupted, nil
		}
		y0, y1 := bnd.Y0, bnd.Y1
		h := y1 - y0

		band := &module.PixelBuffer{
			Width: in.Width, Height: h, Channels: in.Channels, ColorSpace: in.ColorSpace,
			Pix: in.Pix[y0*rowStride : y1*rowStride],
		}

		result, status, err := runWand(band, node, func(w *imagick.MagickWand) error {
			if p.Strength > 0.5 {
				if err := w.DespeckleImage(); err != nil {
					return err
				}
				return w.DespeckleImage()
			}
			return w.DespeckleImage()
		})
		if err != nil {
			return status, err
		}
		if status != module.StatusOk {
			return status, nil
		}

		copy(out.Pix[y0*rowStride:y1*rowStride], result.Pix)
	}
	return module.StatusOk, nil
}

// bandRange is one horizontal scanline band, rows [Y0, Y1).
type bandRange struct{ Y0, Y1 int }

// bandRanges splits height rows into at most n roughly-equal bands,
// extracted into a pure function so the chunk boundaries §4.1 asks for are
// directly testable without an ImageMagick call per band.
func bandRanges(height, n int) []bandRange {
	if n > height {
		n = height
	}
	if n < 1 {
		n = 1
	}
	rows := (height + n - 1) / n
	var out []bandRange
	for y0 := 0; y0 < height; y0 += rows {
		y1 := y0 + rows
		if y1 > height {
			y1 = height
		}
		out = append(out, bandRange{Y0: y0, Y1: y1})
	}
	return out
}

func (Denoise) CommitParams(inst *module.Instance) error { return nil }
func (Denoise) InitPipe(roi module.ROI) error             { return nil }
func (Denoise) CleanupPipe() error                        { return nil }

func (Denoise) ReloadDefaults() ([]byte, []byte) {
	return encodeParams(defaultDenoiseParams()), nil
}
