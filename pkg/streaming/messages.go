// Package streaming defines the JSON envelope protocol used to stream a
// run to a remote collector over WebSocket.
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/resourceflow/flowsim/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartRun    = "start_run"
	TypeEndRun      = "end_run"
	TypeAddVessel   = "add_vessel"
	TypeTankState   = "tank_state"
	TypePipeFlow    = "pipe_flow"
	TypePerformance = "performance"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartRunPayload carries the run description.
type StartRunPayload struct {
	Run *core.Run `json:"run"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Decode unpacks the payload of an envelope into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
