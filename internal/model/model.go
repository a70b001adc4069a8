package model

import (
	"database/sql"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Run{},
	&Vessel{},
	&Tank{},
	&Pipe{},
	&TankState{},
	&PipeFlow{},
	&Performance{},
}

////////////////////////
// RUNS
////////////////////////

// Run is one recorded simulation session
type Run struct {
	gorm.Model
	Name      string       `json:"name" gorm:"size:200"`
	StartTime time.Time    `json:"startTime" gorm:"index:idx_run_start"`
	EndTime   sql.NullTime `json:"endTime"`
	DT        float64      `json:"dt"`
	Parallel  int          `json:"parallel"`
	Version   string       `json:"version" gorm:"size:64"`
	Build     string       `json:"build" gorm:"size:64"`

	Vessels []Vessel
}

func (*Run) TableName() string {
	return "runs"
}

// Vessel is a registered flow network. Name is the vessel identifier from
// the topology file.
type Vessel struct {
	gorm.Model
	RunID   uint   `json:"runId" gorm:"index:idx_vessel_run_id"`
	Run     Run    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Name    string `json:"name" gorm:"size:127"`
	Source  string `json:"source" gorm:"size:255"`
	AddedAt time.Time

	Tanks []Tank
	Pipes []Pipe
}

func (*Vessel) TableName() string {
	return "vessels"
}

// Tank is the static description of one arena slot
type Tank struct {
	ID        uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	VesselID  uint    `json:"vesselId" gorm:"index:idx_tank_vessel_id"`
	Index     int     `json:"index"`
	Name      string  `json:"name" gorm:"size:127"`
	Shape     string  `json:"shape" gorm:"size:32"`
	MaxVolume float64 `json:"maxVolume"`
	Inlets    int     `json:"inlets"`
}

func (*Tank) TableName() string {
	return "tanks"
}

// Pipe is the static description of one pipe, endpoints as arena indices
type Pipe struct {
	ID              uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	VesselID        uint    `json:"vesselId" gorm:"index:idx_pipe_vessel_id"`
	Index           int     `json:"index"`
	Name            string  `json:"name" gorm:"size:127"`
	FromTank        int     `json:"fromTank"`
	FromInlet       int     `json:"fromInlet"`
	ToTank          int     `json:"toTank"`
	ToInlet         int     `json:"toInlet"`
	BaseConductance float64 `json:"baseConductance"`
	Modifiers       int     `json:"modifiers"`
}

func (*Pipe) TableName() string {
	return "pipes"
}

////////////////////////
// STATES
////////////////////////

// TankState is a per-tick sample of a tank. Contents holds
// [{"substance": id, "mass": kg}, ...].
type TankState struct {
	ID        uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time      `json:"time" gorm:"index:idx_tankstate_time"`
	RunID     uint           `json:"runId" gorm:"index:idx_tankstate_run_id"`
	VesselID  uint           `json:"vesselId" gorm:"index:idx_tankstate_vessel_id"`
	Vessel    Vessel         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:VesselID;"`
	TankIndex int            `json:"tankIndex"`
	Tick      uint64         `json:"tick" gorm:"index:idx_tankstate_tick"`
	SimTime   float64        `json:"simTime"`
	Pressure  float64        `json:"pressure"`
	Mass      float64        `json:"mass"`
	Fill      float64        `json:"fill"`
	Contents  datatypes.JSON `json:"contents"`
}

func (*TankState) TableName() string {
	return "tank_states"
}

// PipeFlow is a per-tick sample of a pipe
type PipeFlow struct {
	ID            uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time          time.Time `json:"time" gorm:"index:idx_pipeflow_time"`
	RunID         uint      `json:"runId" gorm:"index:idx_pipeflow_run_id"`
	VesselID      uint      `json:"vesselId" gorm:"index:idx_pipeflow_vessel_id"`
	Vessel        Vessel    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:VesselID;"`
	PipeIndex     int       `json:"pipeIndex"`
	Tick          uint64    `json:"tick" gorm:"index:idx_pipeflow_tick"`
	SimTime       float64   `json:"simTime"`
	FromTank      int       `json:"fromTank"`
	ToTank        int       `json:"toTank"`
	DeltaPressure float64   `json:"deltaPressure"`
	Rate          float64   `json:"rate"`
	Mass          float64   `json:"mass"`
	Starved       bool      `json:"starved"`
}

func (*PipeFlow) TableName() string {
	return "pipe_flows"
}

// Performance is the model for simulator performance metrics
type Performance struct {
	ID             uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time           time.Time `json:"time" gorm:"index:idx_performance_time"`
	RunID          uint      `json:"runId" gorm:"index:idx_performance_run_id"`
	Tick           uint64    `json:"tick"`
	SimTime        float64   `json:"simTime"`
	Networks       int       `json:"networks"`
	TickDurationMs float64   `json:"tickDurationMs"`
	QueueDepth     int       `json:"queueDepth"`
	Dropped        uint64    `json:"dropped"`
	TickErrors     uint64    `json:"tickErrors"`
}

func (*Performance) TableName() string {
	return "performances"
}
