// Package admission decides whether a vote intent is eligible to be counted
// and records each decision as a signed, immutable receipt. It never touches
// the network or storage; the only side effects are the returned receipt and
// a telemetry event.
package admission

import (
	"errors"
	"fmt"
	"time"

	"civicmesh/consensus/identity"
	"civicmesh/engine/library"
	"civicmesh/engine/telemetry"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
)

type Config struct {
	MinTrustScore float64
	Validator     *identity.Validator
	// Signer is optional; receipts are left unsigned without one.
	Signer *Signer
	Sink   telemetry.Sink
	Now    func() time.Time
}

type Controller struct {
	minTrust  float64
	validator *identity.Validator
	signer    *Signer
	sink      telemetry.Sink
	now       func() time.Time
	rounds    map[string]*round
	mu        *deadlock.Mutex
}

func NewController(cfg Config) *Controller {
	if cfg.Validator == nil {
		cfg.Validator = identity.NewValidator(nil)
	}
	if cfg.Sink == nil {
		cfg.Sink = telemetry.Discard{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		minTrust:  cfg.MinTrustScore,
		validator: cfg.Validator,
		signer:    cfg.Signer,
		sink:      cfg.Sink,
		now:       cfg.Now,
		rounds:    make(map[string]*round),
		mu:        &deadlock.Mutex{},
	}
}

// OpenRound starts accepting votes for a synthesis at epoch. Reopening a
// round moves it to the new epoch and forgets who was admitted.
func (c *Controller) OpenRound(topic library.TopicID, synthesis string, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds[roundKey(topic, synthesis)] = &round{epoch: epoch, admitted: make(map[string]struct{})}
}

func (c *Controller) CloseRound(topic library.TopicID, synthesis string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rounds[roundKey(topic, synthesis)]
	if !ok {
		return fmt.Errorf("no round for topic %s synthesis %s", topic, synthesis)
	}
	r.closed = true
	return nil
}

// Admit moves an intent from received to admitted or denied. The decision is
// final.
func (c *Controller) Admit(in Intent) Receipt {
	c.mu.Lock()
	reason := c.check(in)
	c.mu.Unlock()

	r := Receipt{
		ReceiptID:   uuid.NewString(),
		Accepted:    reason == "",
		Reason:      reason,
		TopicID:     in.TopicID,
		SynthesisID: in.SynthesisID,
		Epoch:       in.Epoch,
		PointID:     in.PointID,
	}
	if in.Proof != nil && reason != ReasonProofMissing {
		r.ProofRef = identity.DeriveProofRef(*in.Proof)
	}
	if r.Accepted {
		r.AdmittedAt = c.now().UnixMilli()
		if r.AdmittedAt <= 0 {
			r.AdmittedAt = 1
		}
	}
	if c.signer != nil {
		signed, err := c.signer.Sign(r)
		if err != nil {
			library.LogCLI(fmt.Sprintf("could not sign receipt %s: %s", r.ReceiptID, err.Error()), 1)
		} else {
			r = signed
		}
	}
	c.sink.Admission(telemetry.AdmissionEvent{
		TopicID:  in.TopicID,
		PointID:  in.PointID,
		Admitted: r.Accepted,
		Reason:   r.Reason,
	})
	return r
}

// check must be called with the lock held. An empty result means admitted,
// and the voter is recorded against the round.
func (c *Controller) check(in Intent) string {
	if err := c.validator.Validate(in.Proof); err != nil {
		if errors.Is(err, identity.ErrProofMissing) {
			return ReasonProofMissing
		}
		return ReasonProofInvalid
	}
	if in.TrustScore < c.minTrust {
		return ReasonTrustBelowMinimum
	}
	r, ok := c.rounds[roundKey(in.TopicID, in.SynthesisID)]
	if !ok {
		return ReasonUnknownRound
	}
	if in.Epoch != r.epoch {
		return ReasonEpochMismatch
	}
	voterCell := identity.VoterKeyFor(in.Proof.Nullifier) + "|" + in.PointID
	if r.closed {
		if _, seen := r.admitted[voterCell]; seen {
			return ReasonDuplicateAdmission
		}
		return ReasonRoundClosed
	}
	r.admitted[voterCell] = struct{}{}
	return ""
}
