package core

import "errors"

var (
	// ErrConfig is returned when capacity, refill period or table size is not positive
	ErrConfig = errors.New("invalid configuration")

	// ErrAllocation is returned when the key index cannot be allocated
	ErrAllocation = errors.New("index allocation failed")
)
