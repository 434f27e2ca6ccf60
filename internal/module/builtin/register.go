package builtin

import "devengine/internal/module"

// Register installs the four builtin operation modules into reg. Called
// once from cmd/devengine/main.go before Seal, mirroring the teacher's
// static per-job-type wiring in pipeline.newRouter but for operation
// modules instead of job handlers.
func Register(reg *module.Registry) {
	reg.Register(Exposure{})
	reg.Register(ColorBalance{})
	reg.Register(Sharpen{})
	reg.Register(Denoise{})
}
