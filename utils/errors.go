package utils

import (
	"github.com/pkg/errors"
)

// ErrDimensionMismatch is the cause of every error produced when vectors or matrices handed
// to a computation do not agree with the configured degrees of freedom. Such errors are
// configuration errors and are fatal at startup.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// NewDimensionMismatchError is used when a vector or matrix has the wrong length for the
// configured degrees of freedom.
func NewDimensionMismatchError(what string, expected, actual int) error {
	return errors.Wrapf(ErrDimensionMismatch, "%s: expected %d got %d", what, expected, actual)
}

// CheckLen returns a dimension error if len(values) != dof.
func CheckLen(what string, values []float64, dof int) error {
	if len(values) != dof {
		return NewDimensionMismatchError(what, dof, len(values))
	}
	return nil
}
