package core

import (
	"encoding/json"
	"testing"
)

func TestParseDecimalToMilli(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1", 1000, true},
		{"2", 2000, true},
		{"0.05", 50, true},
		{"1.1", 1100, true},
		{"1,5", 1500, true},
		{"0.1234", 123, true}, // rounds down on 4th digit
		{"0.1235", 124, true}, // rounds up
		{"-1", 0, false},
		{"kg", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToMilli(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ParseDecimalToMilli(%q) unexpected error: %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseDecimalToMilli(%q) expected error", tc.in)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseDecimalToMilli(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestQuantityString(t *testing.T) {
	cases := []struct {
		milli int64
		want  string
	}{
		{2000, "2"},     // whole quantities render without fraction
		{1100, "1.100"}, // weighed quantities keep three digits
		{50, "0.050"},
		{0, "0"},
	}
	for _, tc := range cases {
		if got := (Quantity{Milli: tc.milli}).String(); got != tc.want {
			t.Fatalf("Quantity{%d}.String() = %q, want %q", tc.milli, got, tc.want)
		}
	}
}

func TestQuantityJSONRoundTrip(t *testing.T) {
	for _, milli := range []int64{50, 100, 1000, 1100, 2000, 12345} {
		b, err := json.Marshal(Quantity{Milli: milli})
		if err != nil {
			t.Fatalf("marshal %d: %v", milli, err)
		}
		var back Quantity
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back.Milli != milli {
			t.Fatalf("round trip %d -> %s -> %d", milli, b, back.Milli)
		}
	}
}

func TestUnitNormalize(t *testing.T) {
	cases := []struct {
		unit Unit
		in   int64
		want int64
	}{
		{UnitDiscrete, 0, 1000},    // below minimum clamps to 1
		{UnitDiscrete, 1500, 2000}, // partial piece rounds up
		{UnitDiscrete, 3000, 3000},
		{UnitWeighed, 0, 50}, // clamps to 0.05
		{UnitWeighed, 25, 50},
		{UnitWeighed, 1100, 1100},
	}
	for _, tc := range cases {
		got := tc.unit.Normalize(Quantity{Milli: tc.in})
		if got.Milli != tc.want {
			t.Fatalf("%s.Normalize(%d) = %d, want %d", tc.unit, tc.in, got.Milli, tc.want)
		}
	}
}
