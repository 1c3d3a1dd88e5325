package util

import (
	"reflect"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Front Door", "front_door"},
		{"  Salle à manger ", "salle_a_manger"},
		{"PIR #2 (hall)", "pir_2_hall"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("Garage\x00\x00  "); got != "Garage" {
		t.Errorf("Normalize() = %q, want Garage", got)
	}
}

func TestSplitValues(t *testing.T) {
	got := SplitValues("1 \t 2\t3", true)
	if want := []string{"1", "2", "3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SplitValues(compact) = %q, want %q", got, want)
	}

	got = SplitValues("Front Door  \tBack Door\t", false)
	if want := []string{"Front Door", "Back Door", ""}; !reflect.DeepEqual(got, want) {
		t.Errorf("SplitValues(labels) = %q, want %q", got, want)
	}
}
