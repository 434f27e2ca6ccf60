// Package loader implements the §6 SourceLoader/decoder stub: a faithful,
// minimal stand-in for the out-of-scope raw/JPEG/QOI decoder collaborator,
// plus an fsnotify watch that re-triggers pipeline invalidation when a
// source file changes on disk.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"devengine/internal/module"
)

// sidecarMeta is the JSON capture-metadata file consulted when present
// alongside a source image (<path>.meta.json); absent, Load returns zero
// metadata values rather than failing, per §6.
type sidecarMeta struct {
	Maker, Model, Lens                  string
	ISO, Exposure, Aperture, FocalLength float64
	Raw, LDR, HDR, Monochrome           bool
	ChangeTimestamp                     int64
}

// Loader decodes JPEG/PNG source files via the standard library's image
// package, implementing module.SourceLoader.
type Loader struct {
	log *slog.Logger
}

// New returns a Loader.
func New(log *slog.Logger) *Loader { return &Loader{log: log} }

// Load implements module.SourceLoader.
func (l *Loader) Load(ctx context.Context, path string) (*module.PixelBuffer, module.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, module.Metadata{}, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, module.Metadata{}, fmt.Errorf("loader: decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	buf := module.NewPixelBuffer(w, h, 3, "srgb")
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*w + x) * 3
			buf.Pix[i+0] = float32(r) / 65535
			buf.Pix[i+1] = float32(g) / 65535
			buf.Pix[i+2] = float32(b) / 65535
		}
	}

	meta := module.Metadata{Width: w, Height: h, LDR: true}
	if sm, ok := l.readSidecarMeta(path); ok {
		meta.Maker, meta.Model, meta.Lens = sm.Maker, sm.Model, sm.Lens
		meta.ISO, meta.Exposure, meta.Aperture, meta.FocalLength = sm.ISO, sm.Exposure, sm.Aperture, sm.FocalLength
		meta.Raw, meta.LDR, meta.HDR, meta.Monochrome = sm.Raw, sm.LDR, sm.HDR, sm.Monochrome
		meta.ChangeTimestamp = sm.ChangeTimestamp
	}
	return buf, meta, nil
}

func (l *Loader) readSidecarMeta(imagePath string) (sidecarMeta, bool) {
	data, err := os.ReadFile(imagePath + ".meta.json")
	if err != nil {
		return sidecarMeta{}, false
	}
	var sm sidecarMeta
	if err := json.Unmarshal(data, &sm); err != nil {
		if l.log != nil {
			l.log.Warn("loader: malformed sidecar metadata", "path", imagePath, "error", err)
		}
		return sidecarMeta{}, false
	}
	return sm, true
}
