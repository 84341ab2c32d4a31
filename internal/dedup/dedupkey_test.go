package dedup

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"
)

func TestKey_NilWithoutCoordinates(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if key := Key("airstrike", day, nil, floatPtr(33.5)); key != nil {
		t.Fatalf("expected nil key without longitude")
	}
	if key := Key("airstrike", day, floatPtr(36.2), nil); key != nil {
		t.Fatalf("expected nil key without latitude")
	}
}

func TestKey_Deterministic(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	a := Key("airstrike", day, floatPtr(36.2765), floatPtr(33.5138))
	b := Key("airstrike", day, floatPtr(36.2765), floatPtr(33.5138))
	if !bytes.Equal(a, b) {
		t.Fatalf("same inputs must produce the same key")
	}
	if len(a) != sha256.Size {
		t.Fatalf("unexpected key length: got %d want %d", len(a), sha256.Size)
	}
}

func TestKey_GridRounding(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	a := Key("airstrike", day, floatPtr(36.2771), floatPtr(33.51382))
	b := Key("airstrike", day, floatPtr(36.2769), floatPtr(33.51379))
	if !bytes.Equal(a, b) {
		t.Fatalf("coordinates in the same grid cell must share a key")
	}

	c := Key("airstrike", day, floatPtr(36.281), floatPtr(33.5138))
	if bytes.Equal(a, c) {
		t.Fatalf("coordinates in different grid cells must not share a key")
	}
}

func TestKey_TypeAndDateSensitive(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	base := Key("airstrike", day, floatPtr(36.2765), floatPtr(33.5138))

	if other := Key("shelling", day, floatPtr(36.2765), floatPtr(33.5138)); bytes.Equal(base, other) {
		t.Fatalf("type must contribute to the key")
	}
	if other := Key("airstrike", day.AddDate(0, 0, 1), floatPtr(36.2765), floatPtr(33.5138)); bytes.Equal(base, other) {
		t.Fatalf("date must contribute to the key")
	}
	if other := Key("  AIRSTRIKE  ", day, floatPtr(36.2765), floatPtr(33.5138)); !bytes.Equal(base, other) {
		t.Fatalf("type normalization must ignore case and surrounding spaces")
	}
}
