// Package core holds the storage-agnostic records produced by a simulation
// run. Storage backends and the streaming protocol exchange these types.
package core

import "time"

// Run describes one simulation session.
type Run struct {
	ID        uint
	Name      string
	StartTime time.Time
	DT        float64 // default tick length, s
	Parallel  int
	Version   string
	Build     string
}

// Vessel is a registered flow network. ID is assigned by the storage
// backend on AddVessel.
type Vessel struct {
	ID       uint
	RunID    uint
	VesselID string
	Source   string // file the vessel was loaded from
	AddedAt  time.Time
	Tanks    []TankInfo
	Pipes    []PipeInfo
}

// TankInfo is the static description of a tank in a vessel's arena.
type TankInfo struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Shape     string  `json:"shape"`
	MaxVolume float64 `json:"maxVolume"`
	Inlets    int     `json:"inlets"`
}

// PipeInfo is the static description of a pipe.
type PipeInfo struct {
	Index           int     `json:"index"`
	Name            string  `json:"name"`
	FromTank        int     `json:"fromTank"`
	FromInlet       int     `json:"fromInlet"`
	ToTank          int     `json:"toTank"`
	ToInlet         int     `json:"toInlet"`
	BaseConductance float64 `json:"baseConductance"`
	Modifiers       int     `json:"modifiers"`
}
