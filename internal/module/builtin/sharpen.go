package builtin

import (
	"context"
	"encoding/json"

	"gopkg.in/gographics/imagick.v3/imagick"

	"devengine/internal/module"
)

// SharpenParams controls an UnsharpMaskImage pass, grounded on
// applySharpen's sigma/amount/threshold triple.
type SharpenParams struct {
	Amount    float32 `json:"amount"`    // 0..1
	Radius    float32 `json:"radius"`
	Threshold float32 `json:"threshold"`
}

func defaultSharpenParams() SharpenParams {
	return SharpenParams{Amount: 0.5, Radius: 1, Threshold: 0.01}
}

func decodeSharpenParams(b []byte) SharpenParams {
	p := defaultSharpenParams()
	if len(b) == 0 {
		return p
	}
	_ = json.Unmarshal(b, &p)
	return p
}

// Sharpen implements the sharpen module via UnsharpMaskImage.
type Sharpen struct {
	module.IdentityGeometry
}

func (Sharpen) Descriptor() module.Descriptor {
	return module.Descriptor{
		Op:            "sharpen",
		Version:       1,
		DefaultParams: encodeParams(defaultSharpenParams()),
		Flags:         module.FlagSupportsBlending | module.FlagAllowTiling,
	}
}

func (s Sharpen) Process(ctx context.Context, inst *module.Instance, node *module.NodeContext, in, out *module.PixelBuffer, roiIn, roiOut module.ROI) (module.Status, error) {
	p := decodeSharpenParams(inst.Params)
	amount := 0.3 + 0.4*float64(p.Amount)

	result, status, err := runWand(in, node, func(w *imagick.MagickWand) error {
		return w.UnsharpMaskImage(float64(p.Radius), 1.0, amount, float64(p.Threshold))
	})
	if status == module.StatusOk {
		copy(out.Pix, result.Pix)
	}
	return status, err
}

func (Sharpen) CommitParams(inst *module.Instance) error { return nil }
func (Sharpen) InitPipe(roi module.ROI) error             { return nil }
func (Sharpen) CleanupPipe() error                        { return nil }

func (Sharpen) ReloadDefaults() ([]byte, []byte) {
	return encodeParams(defaultSharpenParams()), nil
}
