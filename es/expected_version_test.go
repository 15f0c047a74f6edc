package es

import (
	"fmt"
	"testing"
)

func TestExpectedVersion_Any(t *testing.T) {
	ev := Any()

	if !ev.IsAny() {
		t.Error("Expected IsAny() to be true")
	}
	if ev.IsExact() {
		t.Error("Expected IsExact() to be false")
	}
	if ev.Value() != 0 {
		t.Errorf("Expected Value() to be 0, got %d", ev.Value())
	}
	if ev.String() != "Any" {
		t.Errorf("Expected String() to be 'Any', got '%s'", ev.String())
	}
}

func TestExpectedVersion_Exact(t *testing.T) {
	tests := []struct {
		name string
		id   int64
	}{
		{"fresh stream", 0},
		{"changeset 1", 1},
		{"changeset 100", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Exact(tt.id)

			if ev.IsAny() {
				t.Error("Expected IsAny() to be false")
			}
			if !ev.IsExact() {
				t.Error("Expected IsExact() to be true")
			}
			if ev.Value() != tt.id {
				t.Errorf("Expected Value() to be %d, got %d", tt.id, ev.Value())
			}
			if want := fmt.Sprintf("Exact(%d)", tt.id); ev.String() != want {
				t.Errorf("Expected String() to be '%s', got '%s'", want, ev.String())
			}
		})
	}
}

func TestExpectedVersion_NoStreamIsExactZero(t *testing.T) {
	if NoStream() != Exact(0) {
		t.Errorf("NoStream() = %v, want Exact(0)", NoStream())
	}
}

func TestExpectedVersion_Exact_Panic(t *testing.T) {
	for _, id := range []int64{-1, -100} {
		t.Run(fmt.Sprint(id), func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Expected Exact(%d) to panic", id)
				}
			}()
			Exact(id)
		})
	}
}
