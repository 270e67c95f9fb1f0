// Package identity checks constituency proofs at the admission boundary and
// reduces them to opaque references. Raw proof fields never travel past it.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"civicmesh/engine/library"
	"github.com/go-playground/validator/v10"
)

var (
	ErrProofMissing = errors.New("constituency proof is missing")
	ErrProofInvalid = errors.New("constituency proof is invalid")
)

type Proof struct {
	DistrictHash string `json:"district_hash" validate:"required"`
	Nullifier    string `json:"nullifier" validate:"required"`
	MerkleRoot   string `json:"merkle_root" validate:"required"`
}

// DeriveProofRef hashes the proof fields in a fixed order. The result is safe
// to log and telemeter.
func DeriveProofRef(p Proof) string {
	return "pref-" + library.Sha256Sum(strings.Join([]string{p.DistrictHash, p.Nullifier, p.MerkleRoot}, "|"))
}

// VoterKeyFor reduces a nullifier to the key the aggregate state uses.
func VoterKeyFor(nullifier string) library.VoterKey {
	return "voter-" + library.Sha256Sum("voter|"+nullifier)
}

type Validator struct {
	roots    map[string]struct{}
	validate *validator.Validate
}

// NewValidator accepts any merkle root when acceptedRoots is empty.
func NewValidator(acceptedRoots []string) *Validator {
	v := &Validator{
		roots:    make(map[string]struct{}),
		validate: validator.New(),
	}
	for _, r := range acceptedRoots {
		if r = strings.TrimSpace(r); r != "" {
			v.roots[r] = struct{}{}
		}
	}
	return v
}

func (v *Validator) Validate(p *Proof) error {
	if p == nil {
		return ErrProofMissing
	}
	if err := v.validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) == 3 {
			return ErrProofMissing
		}
		return fmt.Errorf("%w: %s", ErrProofInvalid, err.Error())
	}
	if len(v.roots) > 0 {
		if _, ok := v.roots[p.MerkleRoot]; !ok {
			return fmt.Errorf("%w: merkle root %s is not an accepted root", ErrProofInvalid, p.MerkleRoot)
		}
	}
	return nil
}
