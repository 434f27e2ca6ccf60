package pipeline

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"

	"devengine/internal/module"
)

// NodeFingerprint computes the 64-bit rolling hash for one node (§4.4),
// combining in order: op identifier, schema version, ordering rank,
// instance priority, enabled flag, parameter bytes, blend-parameter bytes,
// per-node roi, source-buffer dimensions and scale.
func NodeFingerprint(op string, version, rank, instancePriority int, enabled bool, params, blendParams []byte, roi module.ROI, srcW, srcH int, srcScale float64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(op))
	writeInt(h, version)
	writeInt(h, rank)
	writeInt(h, instancePriority)
	if enabled {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(params)
	h.Write(blendParams)
	writeInt(h, roi.X)
	writeInt(h, roi.Y)
	writeInt(h, roi.Width)
	writeInt(h, roi.Height)
	writeFloat(h, roi.Scale)
	writeInt(h, srcW)
	writeInt(h, srcH)
	writeFloat(h, srcScale)
	return h.Sum64()
}

// CombineFingerprint folds the running pipeline fingerprint with the next
// node's fingerprint: PipelineFingerprint(k) = Combine(PipelineFingerprint(k-1), NodeFingerprint(k)).
func CombineFingerprint(prev, next uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], prev)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], next)
	h.Write(buf[:])
	return h.Sum64()
}

func writeInt(h hash.Hash64, v int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
	h.Write(buf[:])
}

func writeFloat(h hash.Hash64, v float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	h.Write(buf[:])
}
