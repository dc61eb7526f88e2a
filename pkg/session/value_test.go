package session

import (
	"encoding/json"
	"testing"
)

func TestValueJSONRoundTrip(t *testing.T) {
	original := map[string]Value{
		"name":    String("weather-bot"),
		"count":   Number(42),
		"enabled": Bool(true),
		"nested": Map(map[string]Value{
			"city": String("Berlin"),
			"temp": Number(21.5),
		}),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]Value
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for k, want := range original {
		got, ok := decoded[k]
		if !ok {
			t.Errorf("key %q missing after round trip", k)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("key %q = %v, want %v", k, got, want)
		}
	}
}

func TestValueUnmarshalRejectsArrays(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`[1, 2, 3]`), &v); err == nil {
		t.Error("Unmarshal() accepted an array, want error")
	}
	if err := json.Unmarshal([]byte(`null`), &v); err == nil {
		t.Error("Unmarshal() accepted null, want error")
	}
}

func TestValueAccessors(t *testing.T) {
	if s, ok := String("x").Str(); !ok || s != "x" {
		t.Error("Str() failed on string value")
	}
	if _, ok := String("x").Num(); ok {
		t.Error("Num() succeeded on string value")
	}
	if n, ok := Number(3.5).Num(); !ok || n != 3.5 {
		t.Error("Num() failed on numeric value")
	}
	if b, ok := Bool(true).BoolVal(); !ok || !b {
		t.Error("BoolVal() failed on bool value")
	}
	if m, ok := Map(map[string]Value{"k": String("v")}).MapVal(); !ok || len(m) != 1 {
		t.Error("MapVal() failed on map value")
	}
}

func TestValueCloneIsDeep(t *testing.T) {
	inner := map[string]Value{"k": String("v")}
	v := Map(inner)

	clone := v.Clone()
	cloneMap, _ := clone.MapVal()
	cloneMap["k"] = String("changed")

	if got, _ := inner["k"].Str(); got != "v" {
		t.Error("Clone() shares nested map")
	}
}
