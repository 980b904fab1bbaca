package appver

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Tuple
	}{
		{"1.2.3", Tuple{1, 2, 3}},
		{"v2.0", Tuple{2, 0}},
		{"", Tuple{0}},
		{"MatriX.5", Tuple{5}},
		{"unknown", Tuple{0}},
		{"1.10.0", Tuple{1, 10, 0}},
		{"2.3.1-beta4", Tuple{2, 3, 1, 4}},
		{"v", Tuple{0}},
	}
	for _, tt := range tests {
		if got := Parse(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.10.0", "1.9.0", 1},  // numeric, not string, comparison
		{"1.9.0", "1.10.0", -1},
		{"2.0", "v2.0", 0},      // prefix stripped before comparison
		{"1.2", "1.2.1", -1},    // shorter prefix compares lower
		{"1.2.1", "1.2", 1},
		{"unknown", "0.0.1", -1}, // unknown orders below everything real
		{"", "", 0},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	versions := []string{"1.0", "1.0.1", "2.3", "v10.2", "MatriX.11", ""}
	for _, a := range versions {
		if Compare(a, a) != 0 {
			t.Errorf("Compare(%q, %q) != 0", a, a)
		}
		for _, b := range versions {
			if Compare(a, b) != -Compare(b, a) {
				t.Errorf("Compare(%q, %q) not antisymmetric", a, b)
			}
		}
	}
}
