package cli

import "testing"

func TestCoerceScalarParsesBoolsFloatsAndStrings(t *testing.T) {
	cases := map[string]any{
		"true":  true,
		"false": false,
		"2.5":   2.5,
		"gain":  "gain",
	}
	for in, want := range cases {
		got := coerceScalar(in)
		if got != want {
			t.Fatalf("coerceScalar(%q) = %v (%T), want %v (%T)", in, got, got, want, want)
		}
	}
}

func TestCoerceParamsReturnsNilForEmptyInput(t *testing.T) {
	if got := coerceParams(nil); got != nil {
		t.Fatalf("want nil for nil input, got %v", got)
	}
	if got := coerceParams(map[string]string{}); got != nil {
		t.Fatalf("want nil for empty input, got %v", got)
	}
}

func TestCoerceParamsConvertsEveryValue(t *testing.T) {
	got := coerceParams(map[string]string{"gain": "2.5", "enabled": "true", "label": "soft"})
	if got["gain"] != 2.5 {
		t.Fatalf("want gain coerced to float64, got %v (%T)", got["gain"], got["gain"])
	}
	if got["enabled"] != true {
		t.Fatalf("want enabled coerced to bool, got %v (%T)", got["enabled"], got["enabled"])
	}
	if got["label"] != "soft" {
		t.Fatalf("want label left as a string, got %v (%T)", got["label"], got["label"])
	}
}

func TestEditRequestFromFlagsSetsTargetOnlyWithFocusHash(t *testing.T) {
	withoutHash := editRequestFromFlags("exposure", 1, true, nil, nil, "")
	if withoutHash.Target != nil {
		t.Fatalf("want no Target without a focus hash, got %v", withoutHash.Target)
	}

	withHash := editRequestFromFlags("exposure", 1, true, nil, nil, "widget-42")
	if withHash.Target == nil {
		t.Fatal("want a Target set when a focus hash is given")
	}
	if withHash.FocusHash != "widget-42" {
		t.Fatalf("want FocusHash carried through, got %q", withHash.FocusHash)
	}
	if withHash.Op != "exposure" || withHash.InstancePriority != 1 || !withHash.Enable {
		t.Fatalf("want op/priority/enable carried through unchanged, got %+v", withHash)
	}
}
