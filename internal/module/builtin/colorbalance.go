package builtin

import (
	"context"
	"encoding/json"

	"gopkg.in/gographics/imagick.v3/imagick"

	"devengine/internal/module"
)

// ColorBalanceParams shifts hue and saturation via ModulateImage, grounded
// on applyColorPop and applyTemperatureLook's hue/saturation nudges.
type ColorBalanceParams struct {
	HueShift float32 `json:"hue_shift"` // degrees, -180..180
	SatShift float32 `json:"sat_shift"` // percent, -100..100
}

func defaultColorBalanceParams() ColorBalanceParams { return ColorBalanceParams{} }

func decodeColorBalanceParams(b []byte) ColorBalanceParams {
	p := defaultColorBalanceParams()
	if len(b) == 0 {
		return p
	}
	_ = json.Unmarshal(b, &p)
	return p
}

// ColorBalance implements the colorbalance module.
type ColorBalance struct {
	module.IdentityGeometry
}

func (ColorBalance) Descriptor() module.Descriptor {
	return module.Descriptor{
		Op:            "colorbalance",
		Version:       1,
		DefaultParams: encodeParams(defaultColorBalanceParams()),
		Flags:         module.FlagSupportsBlending,
	}
}

func (c ColorBalance) Process(ctx context.Context, inst *module.Instance, node *module.NodeContext, in, out *module.PixelBuffer, roiIn, roiOut module.ROI) (module.Status, error) {
	p := decodeColorBalanceParams(inst.Params)
	hue := 100.0 + float64(p.HueShift)/1.8
	sat := 100.0 + float64(p.SatShift)

	result, status, err := runWand(in, node, func(w *imagick.MagickWand) error {
		return w.ModulateImage(100, sat, hue)
	})
	if status == module.StatusOk {
		copy(out.Pix, result.Pix)
	}
	return status, err
}

func (ColorBalance) CommitParams(inst *module.Instance) error { return nil }
func (ColorBalance) InitPipe(roi module.ROI) error             { return nil }
func (ColorBalance) CleanupPipe() error                        { return nil }

func (ColorBalance) ReloadDefaults() ([]byte, []byte) {
	return encodeParams(defaultColorBalanceParams()), nil
}
