// Package units holds the physical constants and small geometry helpers used
// to convert pw.x output from atomic units.
package units

import "math"

// CODATA 2006 values, matching the constants pw.x output has historically
// been converted with.
const (
	BohrSI         = 0.52917720859e-10
	AngstromSI     = 1.0e-10
	ElectronVoltSI = 1.602176487e-19
	HartreeSI      = 4.35974394e-18
	RydbergSI      = HartreeSI / 2

	BohrToAngstrom = BohrSI / AngstromSI
	HartreeToEV    = HartreeSI / ElectronVoltSI
	RydbergToEV    = RydbergSI / ElectronVoltSI
)

// Vector is a cartesian 3-vector.
type Vector = [3]float64

// CellVolume returns |a1 · (a2 × a3)|.
func CellVolume(a1, a2, a3 Vector) float64 {
	return math.Abs(Dot(a1, Cross(a2, a3)))
}

func Cross(a, b Vector) Vector {
	return Vector{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func Dot(a, b Vector) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// Scale multiplies every component of v by f.
func Scale(v Vector, f float64) Vector {
	return Vector{v[0] * f, v[1] * f, v[2] * f}
}

// ScaleAll multiplies every value in values by f, returning a new slice.
func ScaleAll(values []float64, f float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * f
	}
	return out
}

// ReciprocalScale is the factor turning coordinates given in units of 2π/alat
// into inverse angstrom, for a lattice parameter already in angstrom.
func ReciprocalScale(alatAngstrom float64) float64 {
	return 2 * math.Pi / alatAngstrom
}
