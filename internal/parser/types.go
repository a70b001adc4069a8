package parser

import "github.com/go-gl/mathgl/mgl64"

// LoadCommand loads vessel definition files or directories.
type LoadCommand struct {
	Paths []string
}

// UnloadCommand removes a vessel from the simulation.
type UnloadCommand struct {
	Vessel string
}

// TickCommand advances the simulation Count times by DT seconds.
type TickCommand struct {
	DT    float64
	Count int
}

// AccelCommand sets the fluid acceleration of one tank or all tanks.
type AccelCommand struct {
	Vessel       string
	Tank         string
	Acceleration mgl64.Vec3
}

// TransferCommand adds or removes mass of one substance.
type TransferCommand struct {
	Vessel    string
	Tank      string
	Substance string
	Mass      float64
}

// StatusCommand reports one vessel, or all when Vessel is empty.
type StatusCommand struct {
	Vessel string
}
