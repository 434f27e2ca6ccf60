package module

import (
	"context"
	"testing"
)

type stubModule struct {
	IdentityGeometry
	op string
}

func (s stubModule) Descriptor() Descriptor { return Descriptor{Op: s.op, Version: 1} }
func (stubModule) Process(ctx context.Context, inst *Instance, node *NodeContext, in, out *PixelBuffer, roiIn, roiOut ROI) (Status, error) {
	return StatusOk, nil
}
func (stubModule) CommitParams(inst *Instance) error { return nil }
func (stubModule) InitPipe(roi ROI) error             { return nil }
func (stubModule) CleanupPipe() error                 { return nil }
func (stubModule) ReloadDefaults() ([]byte, []byte)   { return nil, nil }

func TestRegisterThenLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(stubModule{op: "exposure"})

	m, ok := r.Lookup("exposure")
	if !ok {
		t.Fatal("want exposure found after Register")
	}
	if m.Descriptor().Op != "exposure" {
		t.Fatalf("want descriptor op exposure, got %q", m.Descriptor().Op)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("want an unregistered op to miss")
	}
}

func TestRegisterAfterSealPanics(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	defer func() {
		if recover() == nil {
			t.Fatal("want Register after Seal to panic")
		}
	}()
	r.Register(stubModule{op: "exposure"})
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(stubModule{op: "exposure"})
	defer func() {
		if recover() == nil {
			t.Fatal("want a duplicate Register to panic")
		}
	}()
	r.Register(stubModule{op: "exposure"})
}

func TestAllReturnsDescriptorsSortedByOp(t *testing.T) {
	r := NewRegistry()
	r.Register(stubModule{op: "sharpen"})
	r.Register(stubModule{op: "colorbalance"})
	r.Register(stubModule{op: "exposure"})

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("want 3 descriptors, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Op > all[i].Op {
			t.Fatalf("want descriptors sorted by op, got %+v", all)
		}
	}
}

func TestDescriptorConvenienceWrapper(t *testing.T) {
	r := NewRegistry()
	r.Register(stubModule{op: "exposure"})

	desc, ok := r.Descriptor("exposure")
	if !ok || desc.Op != "exposure" {
		t.Fatalf("want exposure descriptor, got %+v ok=%v", desc, ok)
	}
	if _, ok := r.Descriptor("missing"); ok {
		t.Fatal("want Descriptor to miss for an unregistered op")
	}
}
