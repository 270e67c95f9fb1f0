package eventconductor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"civicmesh/consensus/admission"
	"civicmesh/consensus/identity"
	"civicmesh/engine/library"
	"civicmesh/messaging/relays"
)

var ErrMalformedIntent = errors.New("malformed vote intent")

// VoteMessage is the wire form of a vote intent.
type VoteMessage struct {
	TopicID     string          `json:"topic_id"`
	PointID     string          `json:"point_id"`
	SynthesisID string          `json:"synthesis_id"`
	Epoch       uint64          `json:"epoch"`
	AnalysisID  string          `json:"analysis_id"`
	Agreement   int8            `json:"agreement"`
	Weight      float64         `json:"weight"`
	TrustScore  float64         `json:"trust_score"`
	Proof       *identity.Proof `json:"constituency_proof,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
	EmittedAt   int64           `json:"emitted_at,omitempty"`
}

func DecodeVote(b []byte) (Vote, error) {
	var m VoteMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return Vote{}, fmt.Errorf("%w: %s", ErrMalformedIntent, err.Error())
	}
	return Vote{
		Intent: admission.Intent{
			TopicID:     m.TopicID,
			PointID:     m.PointID,
			SynthesisID: m.SynthesisID,
			Epoch:       m.Epoch,
			Proof:       m.Proof,
			Agreement:   m.Agreement,
			TrustScore:  m.TrustScore,
			OperationID: m.OperationID,
		},
		AnalysisID: m.AnalysisID,
		Weight:     m.Weight,
		EmittedAt:  m.EmittedAt,
	}, nil
}

// Intake casts every intent from in until ctx is done. An intent without an
// operation id is keyed by its event id, so copies from several relays count
// once.
func (c *Conductor) Intake(ctx context.Context, in <-chan relays.Intent) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-in:
			c.castIntent(ctx, it)
		}
	}
}

func (c *Conductor) castIntent(ctx context.Context, it relays.Intent) {
	v, err := DecodeVote(it.Content)
	if err != nil {
		library.LogCLI(fmt.Sprintf("dropping intent %s from %s: %s", it.ID, it.Author, err.Error()), 3)
		return
	}
	if v.OperationID == "" {
		v.OperationID = it.ID
	}
	res, err := c.Cast(ctx, v)
	switch {
	case err != nil:
		library.LogCLI(fmt.Sprintf("rejected intent %s: %s", it.ID, err.Error()), 3)
	case res.Duplicate:
		library.LogCLI(fmt.Sprintf("intent %s already applied", it.ID), 3)
	default:
		library.LogCLI(library.Fields("intent", it.ID, "receipt_id", res.Receipt.ReceiptID, "accepted", res.Receipt.Accepted), 4)
	}
}
