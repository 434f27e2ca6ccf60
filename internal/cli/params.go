package cli

import (
	"strconv"

	"devengine/internal/develop"
)

// editRequestFromFlags assembles a develop.EditRequest from the edit
// command's flags. A non-empty focusHash sets Target to the (op, priority)
// pair itself, which is enough for the coalescing-for-undo gate: the CLI has
// no GUI widget identity of its own, so the module instance it's editing is
// the natural stand-in.
func editRequestFromFlags(op string, priority int, enable bool, params, blendParams map[string]string, focusHash string) develop.EditRequest {
	req := develop.EditRequest{
		Op:               op,
		InstancePriority: priority,
		Enable:           enable,
		Params:           coerceParams(params),
		BlendParams:      coerceParams(blendParams),
		FocusHash:        focusHash,
	}
	if focusHash != "" {
		req.Target = struct{ Op string; Priority int }{op, priority}
	}
	return req
}

func coerceParams(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = coerceScalar(v)
	}
	return out
}

// coerceScalar parses a CLI flag value as a JSON-ish scalar, so `--param
// gain=2.5` lands as a float64 rather than the string "2.5". Unparseable
// values pass through as strings.
func coerceScalar(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
