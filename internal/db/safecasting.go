package db

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrCastingOverflow is returned when a value cannot be safely
	// cast to the desired type.
	ErrCastingOverflow = errors.New("casting overflow")
)

// int64ToUint32 safely casts an int64 to an uint32, returning an error
// if the value is out of range.
func int64ToUint32(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("could not cast %d to uint32: %w", v,
			ErrCastingOverflow)
	}

	return uint32(v), nil
}

// int64ToInt32 safely casts an int64 to an int32, returning an error
// if the value is out of range.
func int64ToInt32(v int64) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("could not cast %d to int32: %w", v,
			ErrCastingOverflow)
	}

	return int32(v), nil
}

// int64ToBranch safely casts an int64 to a Branch, returning an error if the
// value is neither the external nor the internal branch.
func int64ToBranch(v int64) (Branch, error) {
	if v != int64(External) && v != int64(Internal) {
		return 0, fmt.Errorf("could not cast %d to branch: %w", v,
			ErrCastingOverflow)
	}

	return Branch(v), nil
}
