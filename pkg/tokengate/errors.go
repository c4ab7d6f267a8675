package tokengate

import (
	"errors"

	"github.com/yourusername/tokengate/core"
)

var (
	// ErrConfig is returned when capacity, refill period or table size is invalid
	ErrConfig = core.ErrConfig

	// ErrAllocation is returned when the key index cannot be allocated
	ErrAllocation = core.ErrAllocation

	// ErrClosed is returned by Check after Shutdown
	ErrClosed = errors.New("controller is shut down")
)
