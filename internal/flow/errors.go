package flow

import (
	"errors"

	"github.com/resourceflow/flowsim/internal/shape"
)

// ErrInvalidTopology is returned when inlets, pipes or endpoints reference
// nodes, tanks or inlets that do not exist.
var ErrInvalidTopology = errors.New("invalid topology")

// ErrUnsupportedConfiguration is the shape sampling error, re-exported so
// callers of the solve do not need to import the shape package.
var ErrUnsupportedConfiguration = shape.ErrUnsupportedConfiguration
