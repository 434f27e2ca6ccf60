// Package module defines the operation module ABI: the boundary between the
// develop engine core and the opaque pixel-processing plugins it schedules.
package module

import (
	"context"
	"sync/atomic"
)

// Flag is a capability bit on an operation type.
type Flag uint32

const (
	FlagHidden Flag = 1 << iota
	FlagDeprecated
	FlagOneInstance
	FlagNoHistoryStack
	FlagHideEnableButton
	FlagDefaultEnabled
	FlagSupportsBlending
	FlagAllowTiling
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Status is the outcome of a single node invocation.
type Status int

const (
	StatusOk Status = iota
	StatusInterrupted
	StatusErr
)

// ROI is a region of interest in pipeline-local coordinates.
type ROI struct {
	X, Y          int
	Width, Height int
	Scale         float64
}

// Equal reports whether two ROIs are identical.
func (r ROI) Equal(o ROI) bool {
	return r.X == o.X && r.Y == o.Y && r.Width == o.Width && r.Height == o.Height && r.Scale == o.Scale
}

// PixelBuffer is an opaque in-memory image buffer. It carries enough shape
// information for the pipeline to reason about it without knowing the
// colorspace or encoding details of any particular decoder.
type PixelBuffer struct {
	Width, Height int
	Channels      int
	ColorSpace    string
	Pix           []float32 // row-major, Channels floats per pixel
}

// NewPixelBuffer allocates a zeroed buffer of the given shape.
func NewPixelBuffer(w, h, channels int, cs string) *PixelBuffer {
	return &PixelBuffer{
		Width: w, Height: h, Channels: channels, ColorSpace: cs,
		Pix: make([]float32, w*h*channels),
	}
}

// Clone returns a deep copy, since modules must not mutate their input.
func (b *PixelBuffer) Clone() *PixelBuffer {
	if b == nil {
		return nil
	}
	out := &PixelBuffer{Width: b.Width, Height: b.Height, Channels: b.Channels, ColorSpace: b.ColorSpace}
	out.Pix = make([]float32, len(b.Pix))
	copy(out.Pix, b.Pix)
	return out
}

// NodeContext carries per-invocation, node-local runtime state down into a
// module's Process call: cooperative cancellation and device placement.
type NodeContext struct {
	Shutdown *atomic.Bool
	Device   Device
}

// Device selects where a node should execute. Accelerator placement is a
// scheduling hook only; this engine's accelerator path always reports
// unavailable, so selection always resolves to CPU, but the decision logic
// is real.
type Device int

const (
	DeviceCPU Device = iota
	DeviceAccelerator
)

// Point is a 2D coordinate used by the geometric transform pair.
type Point struct{ X, Y float64 }

// Instance is a live operation instance attached to a develop state: one
// per (type, instance-priority) pair currently active on an image.
type Instance struct {
	Op              string
	InstancePriority int
	Label           string
	LabelHandEdited bool
	Enabled         bool
	Params          []byte
	BlendParams     []byte
	Rank            int
}

// Key returns the (op, instance-priority) identity tuple used throughout
// history and ordering lookups. Per the design notes (§9), this tuple is
// how history entries address module instances; there is never an owning
// pointer in either direction.
func (i *Instance) Key() InstanceKey {
	return InstanceKey{Op: i.Op, InstancePriority: i.InstancePriority}
}

// InstanceKey identifies a module instance without holding a reference to
// it.
type InstanceKey struct {
	Op               string
	InstancePriority int
}

// LegacyParams migrates a persisted parameter blob from an old schema
// version to the module's current version, or refuses with an error.
type LegacyParamsFunc func(oldBytes []byte, oldVersion int) (newBytes []byte, newVersion int, err error)

// Descriptor is a module's static, process-lifetime-immutable self
// description (§3 "Operation type").
type Descriptor struct {
	Op                  string
	Version             int
	ParamSize           int
	DefaultParams       []byte
	DefaultBlendParams  []byte
	Flags               Flag
	LegacyParams        LegacyParamsFunc
	DistortTransform    func(pts []Point) []Point
	DistortBacktransform func(pts []Point) []Point
}

// Module is the full operation module ABI (§4.1, §6).
type Module interface {
	Descriptor() Descriptor

	// Process runs one node invocation. It must not mutate in, must be
	// deterministic given identical (params, blend params, input bytes,
	// roi), and must poll node.Shutdown at natural chunk boundaries,
	// returning StatusInterrupted promptly when it is set.
	Process(ctx context.Context, inst *Instance, node *NodeContext, in, out *PixelBuffer, roiIn, roiOut ROI) (Status, error)

	// CommitParams is called after parameters change and before the next
	// Process call, giving the module a chance to precompute derived
	// state from Params/BlendParams.
	CommitParams(inst *Instance) error

	// InitPipe/CleanupPipe bracket a node's lifetime within one pipeline.
	InitPipe(roi ROI) error
	CleanupPipe() error

	// ReloadDefaults resets DefaultParams/DefaultBlendParams, e.g. after a
	// camera-specific preset changes what "default" means.
	ReloadDefaults() (params, blendParams []byte)
}

// IdentityGeometry can be embedded by non-geometric modules so they satisfy
// the distortion pair with an identity mapping.
type IdentityGeometry struct{}

func (IdentityGeometry) DistortTransform(pts []Point) []Point     { return pts }
func (IdentityGeometry) DistortBacktransform(pts []Point) []Point { return pts }

// Metadata is the immutable capture metadata carried by an image handle.
type Metadata struct {
	Maker, Model, Lens string
	ISO                float64
	Exposure           float64
	Aperture           float64
	FocalLength        float64
	Raw, LDR, HDR      bool
	Monochrome         bool
	ChangeTimestamp    int64
	Width, Height      int
}

// SourceLoader decodes a source image into a PixelBuffer plus its capture
// metadata. The real raw/JPEG/QOI decoders are an out-of-scope external
// collaborator; SourceLoader is the interface the core consumes from them.
type SourceLoader interface {
	Load(ctx context.Context, path string) (*PixelBuffer, Metadata, error)
}
