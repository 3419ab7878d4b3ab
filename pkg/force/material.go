package force

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMaterial is returned for non-physical elastic constants.
var ErrInvalidMaterial = errors.New("invalid material parameters")

// Material holds the isotropic elastic constants and the core regularization.
// Lengths are in units of the Burgers vector magnitude.
type Material struct {
	// Mu is the shear modulus.
	Mu float64 `yaml:"mu" json:"mu"`
	// Nu is Poisson's ratio.
	Nu float64 `yaml:"nu" json:"nu"`
	// CoreRadius is the spreading radius a of the non-singular theory.
	CoreRadius float64 `yaml:"core_radius" json:"core_radius"`
	// CoreEnergy is the core energy per unit length and per b^2. Zero selects
	// mu/(4 pi) ln(a/0.1).
	CoreEnergy float64 `yaml:"core_energy" json:"core_energy"`
}

// Validate checks the constants.
func (m Material) Validate() error {
	switch {
	case !(m.Mu > 0):
		return fmt.Errorf("%w: shear modulus %g", ErrInvalidMaterial, m.Mu)
	case !(m.Nu > -1 && m.Nu < 0.5):
		return fmt.Errorf("%w: Poisson ratio %g", ErrInvalidMaterial, m.Nu)
	case !(m.CoreRadius > 0):
		return fmt.Errorf("%w: core radius %g", ErrInvalidMaterial, m.CoreRadius)
	case m.CoreEnergy < 0:
		return fmt.Errorf("%w: core energy %g", ErrInvalidMaterial, m.CoreEnergy)
	}
	return nil
}

// Lame returns the Lamé constant lambda.
func (m Material) Lame() float64 {
	return 2 * m.Mu * m.Nu / (1 - 2*m.Nu)
}

// Ecore returns the core energy coefficient in use.
func (m Material) Ecore() float64 {
	if m.CoreEnergy > 0 {
		return m.CoreEnergy
	}
	if m.CoreRadius > 0.1 {
		return m.Mu / (4 * math.Pi) * math.Log(m.CoreRadius/0.1)
	}
	return 0
}
