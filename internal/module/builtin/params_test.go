package builtin

import "testing"

func TestDecodeExposureParamsFallsBackToDefaultsOnEmptyBytes(t *testing.T) {
	p := decodeExposureParams(nil)
	if p != defaultExposureParams() {
		t.Fatalf("want default params for nil bytes, got %+v", p)
	}
}

func TestDecodeExposureParamsRoundTrips(t *testing.T) {
	want := ExposureParams{Gain: 1.4, Black: 0.02}
	got := decodeExposureParams(encodeParams(want))
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestDecodeColorBalanceParamsRoundTrips(t *testing.T) {
	want := ColorBalanceParams{HueShift: 10, SatShift: -5}
	got := decodeColorBalanceParams(encodeParams(want))
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestDecodeSharpenParamsRoundTrips(t *testing.T) {
	want := SharpenParams{Amount: 0.8, Radius: 2, Threshold: 0.02}
	got := decodeSharpenParams(encodeParams(want))
	if got != want {
		t.Fatalf("want %+v, got %+v", want, got)
	}
}

func TestDescriptorsCarryDistinctOpNames(t *testing.T) {
	ops := map[string]bool{}
	for _, d := range []struct{ Op string }{
		{Exposure{}.Descriptor().Op},
		{ColorBalance{}.Descriptor().Op},
		{Sharpen{}.Descriptor().Op},
		{Denoise{}.Descriptor().Op},
	} {
		if ops[d.Op] {
			t.Fatalf("duplicate op name %q across builtin modules", d.Op)
		}
		ops[d.Op] = true
	}
	if len(ops) != 4 {
		t.Fatalf("want 4 distinct builtin op names, got %d", len(ops))
	}
}
