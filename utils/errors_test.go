package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestDimensionMismatchError(t *testing.T) {
	err := NewDimensionMismatchError("torque", 4, 3)
	test.That(t, err, test.ShouldWrap, ErrDimensionMismatch)
	test.That(t, err.Error(), test.ShouldContainSubstring, "torque: expected 4 got 3")

	test.That(t, CheckLen("q", []float64{1, 2}, 2), test.ShouldBeNil)
	test.That(t, CheckLen("q", nil, 2), test.ShouldWrap, ErrDimensionMismatch)
}
