package units_test

import (
	"math"
	"testing"

	"github.com/ErlanBelekov/pwchain/internal/units"
)

func TestHartreeToEV(t *testing.T) {
	const want = 27.211383860484776
	if math.Abs(units.HartreeToEV-want) > 1e-12 {
		t.Fatalf("HartreeToEV = %.15f, want %.15f", units.HartreeToEV, want)
	}
	if math.Abs(2*units.RydbergToEV-units.HartreeToEV) > 1e-12 {
		t.Fatalf("rydberg is not half a hartree: %v vs %v", units.RydbergToEV, units.HartreeToEV)
	}
}

func TestBohrToAngstrom(t *testing.T) {
	if math.Abs(units.BohrToAngstrom-0.52917720859) > 1e-15 {
		t.Fatalf("BohrToAngstrom = %v", units.BohrToAngstrom)
	}
}

func TestCellVolume(t *testing.T) {
	tests := []struct {
		name       string
		a1, a2, a3 units.Vector
		want       float64
	}{
		{"cubic", units.Vector{2, 0, 0}, units.Vector{0, 2, 0}, units.Vector{0, 0, 2}, 8},
		{"left handed", units.Vector{0, 2, 0}, units.Vector{2, 0, 0}, units.Vector{0, 0, 2}, 8},
		{"fcc", units.Vector{-0.5, 0, 0.5}, units.Vector{0, 0.5, 0.5}, units.Vector{-0.5, 0.5, 0}, 0.25},
		{"degenerate", units.Vector{1, 0, 0}, units.Vector{2, 0, 0}, units.Vector{0, 0, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := units.CellVolume(tt.a1, tt.a2, tt.a3)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("CellVolume = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReciprocalScale(t *testing.T) {
	got := units.ReciprocalScale(math.Pi)
	if math.Abs(got-2) > 1e-15 {
		t.Fatalf("ReciprocalScale(pi) = %v, want 2", got)
	}
}
