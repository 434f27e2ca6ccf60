package builtin

import "testing"

func TestBandRangesFloorsAtOneBand(t *testing.T) {
	bands := bandRanges(5, 0)
	if len(bands) != 1 || bands[0].Y0 != 0 || bands[0].Y1 != 5 {
		t.Fatalf("want a single band covering the whole height when n<=0, got %+v", bands)
	}
}

func TestDecodeSharpenParamsFallsBackToDefaultsOnEmptyBytes(t *testing.T) {
	p := decodeSharpenParams(nil)
	if p != defaultSharpenParams() {
		t.Fatalf("want defaults for empty params, got %+v", p)
	}
}

func TestDecodeColorBalanceParamsFallsBackToDefaultsOnEmptyBytes(t *testing.T) {
	p := decodeColorBalanceParams(nil)
	if p != defaultColorBalanceParams() {
		t.Fatalf("want defaults for empty params, got %+v", p)
	}
}

func TestChannelMapCoversKnownAndFallbackShapes(t *testing.T) {
	cases := map[int]string{1: "I", 3: "RGB", 4: "RGBA", 7: "I"}
	for channels, want := range cases {
		if got := channelMap(channels); got != want {
			t.Fatalf("channelMap(%d) = %q, want %q", channels, got, want)
		}
	}
}

func TestClamp01(t *testing.T) {
	if clamp01(-1) != 0 {
		t.Fatal("want clamp01 to floor negative values at 0")
	}
	if clamp01(2) != 1 {
		t.Fatal("want clamp01 to ceil values above 1 at 1")
	}
	if clamp01(0.5) != 0.5 {
		t.Fatal("want clamp01 to pass mid-range values through unchanged")
	}
}
