package admission

import (
	"civicmesh/consensus/identity"
	"civicmesh/engine/library"
)

// Denial reasons carried on receipts.
const (
	ReasonProofMissing       = "proof_missing"
	ReasonProofInvalid       = "proof_invalid"
	ReasonTrustBelowMinimum  = "trust_below_threshold"
	ReasonUnknownRound       = "unknown_round"
	ReasonEpochMismatch      = "epoch_mismatch"
	ReasonRoundClosed        = "round_closed"
	ReasonDuplicateAdmission = "duplicate_admission"
)

// Intent is a voter's request to have a stance counted.
type Intent struct {
	TopicID     library.TopicID
	PointID     library.PointID
	SynthesisID string
	Epoch       uint64
	Proof       *identity.Proof
	Agreement   int8
	TrustScore  float64
	// OperationID identifies retries of the same intent. Optional.
	OperationID string
}

// Receipt records one admission decision. It is never modified after
// Admit returns it.
type Receipt struct {
	ReceiptID   string          `json:"receipt_id"`
	Accepted    bool            `json:"accepted"`
	Reason      string          `json:"reason,omitempty"`
	TopicID     library.TopicID `json:"topic_id"`
	SynthesisID string          `json:"synthesis_id"`
	Epoch       uint64          `json:"epoch"`
	PointID     library.PointID `json:"point_id"`
	AdmittedAt  int64           `json:"admitted_at"`
	ProofRef    string          `json:"proof_ref,omitempty"`
	Signer      library.Account `json:"signer,omitempty"`
	Signature   string          `json:"signature,omitempty"`
}

type round struct {
	epoch    uint64
	closed   bool
	admitted map[string]struct{}
}

func roundKey(topic library.TopicID, synthesis string) string {
	return topic + "|" + synthesis
}
