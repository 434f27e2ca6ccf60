package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/gographics/imagick.v3/imagick"

	"devengine/internal/module"
)

// ExposureParams is the JSON-encoded parameter record for the exposure
// module: a linear gain plus a black point, applied via a sigmoidal
// contrast curve (grounded on applyExposureLook's "gentle S-curve").
type ExposureParams struct {
	Gain  float32 `json:"gain"`
	Black float32 `json:"black"`
}

func defaultExposureParams() ExposureParams { return ExposureParams{Gain: 1, Black: 0} }

func encodeParams(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("builtin: encode default params: %v", err))
	}
	return b
}

func decodeExposureParams(b []byte) ExposureParams {
	p := defaultExposureParams()
	if len(b) == 0 {
		return p
	}
	_ = json.Unmarshal(b, &p)
	return p
}

// Exposure implements the exposure module: linear gain + black point via
// SigmoidalContrastImage/EvaluateImage.
type Exposure struct {
	module.IdentityGeometry
}

func (Exposure) Descriptor() module.Descriptor {
	return module.Descriptor{
		Op:            "exposure",
		Version:       1,
		DefaultParams: encodeParams(defaultExposureParams()),
		Flags:         module.FlagSupportsBlending | module.FlagAllowTiling,
	}
}

func (e Exposure) Process(ctx context.Context, inst *module.Instance, node *module.NodeContext, in, out *module.PixelBuffer, roiIn, roiOut module.ROI) (module.Status, error) {
	p := decodeExposureParams(inst.Params)
	result, status, err := runWand(in, node, func(w *imagick.MagickWand) error {
		if p.Black != 0 {
			if err := w.EvaluateImage(imagick.EVALUATE_ADD, float64(clamp01(-p.Black))); err != nil {
				return err
			}
		}
		contrast := 2.0 * float64(p.Gain)
		if contrast < 1 {
			contrast = 1
		}
		return w.SigmoidalContrastImage(true, contrast, 0.5)
	})
	if status == module.StatusOk {
		copy(out.Pix, result.Pix)
	}
	return status, err
}

func (Exposure) CommitParams(inst *module.Instance) error { return nil }
func (Exposure) InitPipe(roi module.ROI) error             { return nil }
func (Exposure) CleanupPipe() error                        { return nil }

func (Exposure) ReloadDefaults() ([]byte, []byte) {
	return encodeParams(defaultExposureParams()), nil
}
