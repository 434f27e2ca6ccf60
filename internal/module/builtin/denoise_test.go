package builtin

import "testing"

func TestBandRangesCoversWholeHeightWithoutOverlap(t *testing.T) {
	ranges := bandRanges(10, 3)
	if len(ranges) == 0 {
		t.Fatal("want at least one band")
	}
	if ranges[0].Y0 != 0 {
		t.Fatalf("want first band to start at 0, got %d", ranges[0].Y0)
	}
	if last := ranges[len(ranges)-1].Y1; last != 10 {
		t.Fatalf("want last band to end at height 10, got %d", last)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Y0 != ranges[i-1].Y1 {
			t.Fatalf("want contiguous bands, got gap/overlap between %+v and %+v", ranges[i-1], ranges[i])
		}
	}
}

func TestBandRangesClampsToHeightWhenRequestingMoreBandsThanRows(t *testing.T) {
	ranges := bandRanges(2, 10)
	if len(ranges) != 2 {
		t.Fatalf("want exactly 2 one-row bands when height < requested bands, got %d", len(ranges))
	}
}

func TestDecodeDenoiseParamsDefaultsToOneBandWhenNonPositive(t *testing.T) {
	p := decodeDenoiseParams([]byte(`{"strength":0.4,"bands":0}`))
	if p.Bands != 1 {
		t.Fatalf("want non-positive bands coerced to 1, got %d", p.Bands)
	}
}
