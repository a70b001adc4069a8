package core

import "time"

// SubstanceMass is one line of a tank's contents.
type SubstanceMass struct {
	Substance string  `json:"substance"`
	Mass      float64 `json:"mass"`
}

// TankState is a tank's state after a tick.
type TankState struct {
	VesselID  uint // storage id of the vessel
	Vessel    string
	TankIndex int
	Tank      string
	Tick      uint64
	Time      float64
	Pressure  float64
	Mass      float64
	Fill      float64
	Contents  []SubstanceMass
}

// PipeFlow is what one pipe moved during a tick.
type PipeFlow struct {
	VesselID      uint
	Vessel        string
	PipeIndex     int
	Pipe          string
	Tick          uint64
	Time          float64
	FromTank      int
	ToTank        int
	DeltaPressure float64
	Rate          float64
	Mass          float64
	Starved       bool
}

// Performance is a periodic snapshot of the simulation loop.
type Performance struct {
	Timestamp    time.Time
	Tick         uint64
	Time         float64
	Networks     int
	TickDuration time.Duration
	QueueDepth   int
	Dropped      uint64
	TickErrors   uint64
}

// RunSummary describes a finished run for exported files.
type RunSummary struct {
	RunName  string
	Ticks    uint64
	Duration float64 // simulated seconds
	Vessels  int
}

// UploadMetadata accompanies an exported run file sent to a results server.
type UploadMetadata struct {
	RunName  string  `json:"runName"`
	Ticks    uint64  `json:"ticks"`
	Duration float64 `json:"duration"` // simulated seconds
	Vessels  int     `json:"vessels"`
	Tag      string  `json:"tag,omitempty"`
}
