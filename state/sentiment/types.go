package sentiment

import (
	"civicmesh/consensus/identity"
	"civicmesh/engine/library"
)

type Agreement int8

const (
	Disagree Agreement = -1
	Neutral  Agreement = 0
	Agree    Agreement = 1
)

const (
	MinWeight = 0.0
	MaxWeight = 2.0
)

// Signal is one voter's stance on one point of an analysis, as it arrives
// from a client.
type Signal struct {
	TopicID    library.TopicID `json:"topic_id" validate:"required"`
	AnalysisID string          `json:"analysis_id" validate:"required"`
	PointID    library.PointID `json:"point_id" validate:"required"`
	Agreement  Agreement       `json:"agreement" validate:"oneof=-1 0 1"`
	Weight     float64         `json:"weight"`
	Proof      identity.Proof  `json:"constituency_proof"`
	EmittedAt  int64           `json:"emitted_at"`
}

// Event is a signal already reduced to its voter key, as held in registers
// and exchanged over the mesh.
type Event struct {
	TopicID   library.TopicID  `json:"topic_id"`
	PointID   library.PointID  `json:"point_id"`
	Voter     library.VoterKey `json:"voter"`
	Agreement Agreement        `json:"agreement"`
	Weight    float64          `json:"weight"`
	EmittedAt int64            `json:"emitted_at,omitempty"`
}

type Stats struct {
	Agree    int `json:"agree"`
	Disagree int `json:"disagree"`
}

// Snapshot is the persisted form of the aggregate. Voters appear only as
// voter keys.
type Snapshot struct {
	Stances map[library.PointID]map[library.VoterKey]Agreement `json:"stances"`
	Weights map[library.TopicID]float64                        `json:"weights"`
}
