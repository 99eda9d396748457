package solver

import (
	"errors"
	"fmt"
)

// Tolerance scales shared by every stage. Their ordering matters:
// structural < geometric < user conflict.
const (
	StructuralEps     = 1e-9 // zero-length / zero-norm checks
	GeomEps           = 1e-6 // triangle inequality, circle intersection, axis signatures
	UserConflictTolMm = 0.1  // measured vs geometric disagreement on a user edge

	// DefaultMaxExtraPasses is added to 3*|edges| to bound every
	// propagation loop.
	DefaultMaxExtraPasses = 10
)

// ErrTolerances is returned by Tolerances.Validate.
var ErrTolerances = errors.New("invalid tolerances")

// Tolerances is the per-context copy of the tolerance scales.
type Tolerances struct {
	Structural     float64
	Geom           float64
	UserConflictMm float64
	MaxExtraPasses int
}

// DefaultTolerances returns the package constants.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Structural:     StructuralEps,
		Geom:           GeomEps,
		UserConflictMm: UserConflictTolMm,
		MaxExtraPasses: DefaultMaxExtraPasses,
	}
}

// Validate checks that every scale is positive and the ordering holds.
func (t Tolerances) Validate() error {
	if !(t.Structural > 0) || !(t.Geom > 0) || !(t.UserConflictMm > 0) {
		return fmt.Errorf("%w: scales must be positive (%g, %g, %g)", ErrTolerances, t.Structural, t.Geom, t.UserConflictMm)
	}
	if !(t.Structural < t.Geom && t.Geom < t.UserConflictMm) {
		return fmt.Errorf("%w: need structural < geometric < conflict, got %g, %g, %g",
			ErrTolerances, t.Structural, t.Geom, t.UserConflictMm)
	}
	if t.MaxExtraPasses < 0 {
		return fmt.Errorf("%w: max extra passes %d", ErrTolerances, t.MaxExtraPasses)
	}
	return nil
}

// passBound returns the loop limit for a propagation over n edges.
func (t Tolerances) passBound(n int) int {
	return 3*n + t.MaxExtraPasses
}
