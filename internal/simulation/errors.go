package simulation

import "errors"

// ErrUnknownVessel is returned when no network is registered for a vessel.
var ErrUnknownVessel = errors.New("no network registered for vessel")
