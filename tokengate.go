package tokengate

import (
	"github.com/yourusername/tokengate/core"
	"github.com/yourusername/tokengate/pkg/tokengate"
)

// Re-export main types for convenience
type (
	Config     = tokengate.Config
	Controller = tokengate.Controller
	Option     = tokengate.Option
	Decision   = core.Decision
	Result     = core.Result
)

const (
	Allowed = core.Allowed
	Denied  = core.Denied
)

// New creates a new admission controller
var New = tokengate.New

// NewConfig returns the default configuration
var NewConfig = tokengate.NewConfig
