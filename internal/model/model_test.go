package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"Run", &Run{}, "runs"},
		{"Vessel", &Vessel{}, "vessels"},
		{"Tank", &Tank{}, "tanks"},
		{"Pipe", &Pipe{}, "pipes"},
		{"TankState", &TankState{}, "tank_states"},
		{"PipeFlow", &PipeFlow{}, "pipe_flows"},
		{"Performance", &Performance{}, "performances"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestDatabaseModels_AllHaveTableNames(t *testing.T) {
	for _, m := range DatabaseModels {
		_, ok := m.(interface{ TableName() string })
		assert.True(t, ok, "%T has no TableName", m)
	}
}
