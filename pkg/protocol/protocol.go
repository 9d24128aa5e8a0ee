// Package protocol defines the wire types exchanged with the game client and
// the validated decoders for them.
//
// A game client sends one [Perception] per tick and receives a [Reply]
// carrying the plan for the controlled character. Inbound perceptions and
// every generated [AgentAction] are checked against embedded JSON Schemas
// before they are decoded into Go values.
package protocol

import (
	"slices"
	"strings"
)

// Mode is the world the character currently perceives.
type Mode string

const (
	ModeReality Mode = "reality"
	ModeDream   Mode = "dream"
)

// DefaultObjectState is the state tag of objects that report none.
const DefaultObjectState = "default"

// Vec3 is a position in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// WorldObject is an interactable object near the character.
type WorldObject struct {
	ID       string  `json:"id"`
	Type     string  `json:"type,omitempty"`
	Position Vec3    `json:"position"`
	Distance float64 `json:"distance"`
	State    string  `json:"state"`
}

// Perception is one snapshot of world state sent by the game client.
type Perception struct {
	TimeHour         int           `json:"time_hour"`
	Day              int           `json:"day"`
	Mode             Mode          `json:"mode"`
	LocationID       string        `json:"location_id"`
	PlayerNearby     bool          `json:"player_nearby"`
	NearbyObjects    []WorldObject `json:"nearby_objects"`
	HeldItem         *string       `json:"held_item"`
	LastActionStatus string        `json:"last_action_status,omitempty"`
	LastActionError  string        `json:"last_action_error,omitempty"`
}

// normalize applies defaults to fields the client may leave out.
func (p *Perception) normalize() {
	p.Mode = Mode(strings.ToLower(string(p.Mode)))
	if p.NearbyObjects == nil {
		p.NearbyObjects = []WorldObject{}
	}
	for i := range p.NearbyObjects {
		if p.NearbyObjects[i].State == "" {
			p.NearbyObjects[i].State = DefaultObjectState
		}
	}
	if p.HeldItem != nil && *p.HeldItem == "" {
		p.HeldItem = nil
	}
}

// Holding returns the held item, or fallback when the hands are empty.
func (p *Perception) Holding(fallback string) string {
	if p.HeldItem == nil {
		return fallback
	}
	return *p.HeldItem
}

// NearbyIDs returns the ids of nearby objects in the order they were sent.
func (p *Perception) NearbyIDs() []string {
	ids := make([]string, 0, len(p.NearbyObjects))
	for _, o := range p.NearbyObjects {
		ids = append(ids, o.ID)
	}
	return ids
}

// Clone returns a deep copy of p.
func (p *Perception) Clone() *Perception {
	c := *p
	c.NearbyObjects = slices.Clone(p.NearbyObjects)
	if p.HeldItem != nil {
		h := *p.HeldItem
		c.HeldItem = &h
	}
	return &c
}

// AgentAction is one step of a plan.
type AgentAction struct {
	// ThoughtTrace is an optional human-readable rationale.
	ThoughtTrace string `json:"thought_trace,omitempty"`

	// Function names the capability the game client should invoke.
	Function string `json:"function"`

	// Args are the capability arguments.
	Args map[string]any `json:"args"`

	// IsFinished marks the last step the character needs for its task.
	IsFinished bool `json:"is_finished"`
}

// Plan is an ordered sequence of actions. Index order is execution order.
type Plan []AgentAction

// Functions returns the function names of the plan in order.
func (p Plan) Functions() []string {
	names := make([]string, len(p))
	for i, a := range p {
		names[i] = a.Function
	}
	return names
}

// CurriculumOutput is a proposed task.
type CurriculumOutput struct {
	Task       string `json:"task" jsonschema:"the next task for the character, a short imperative phrase"`
	Reasoning  string `json:"reasoning" jsonschema:"why this task fits the current state"`
	Difficulty int    `json:"difficulty" jsonschema:"estimated difficulty from 1 (trivial) to 10"`
}

// CriticOutput is the verdict on whether a task was completed.
type CriticOutput struct {
	Success   bool   `json:"success" jsonschema:"whether the task has been completed"`
	Reasoning string `json:"reasoning" jsonschema:"evidence from the observation"`
	Feedback  string `json:"feedback" jsonschema:"what to change on the next attempt"`
}

// Reply is sent to the client for every processed perception.
type Reply struct {
	ClientID string `json:"client_id"`
	Task     string `json:"task"`
	Plan     Plan   `json:"plan"`
}

// ErrorReply is sent to the client when a message cannot be processed.
type ErrorReply struct {
	Error string `json:"error"`
}

// InvalidSchema is the reply to a structurally invalid perception.
var InvalidSchema = ErrorReply{Error: "Invalid Data Schema"}
