package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proof = Proof{DistrictHash: "d-1", Nullifier: "n-1", MerkleRoot: "root-1"}

func TestDeriveProofRefIsDeterministic(t *testing.T) {
	a := DeriveProofRef(proof)
	b := DeriveProofRef(Proof{DistrictHash: "d-1", Nullifier: "n-1", MerkleRoot: "root-1"})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "pref-"))
}

func TestDeriveProofRefChangesWithEveryField(t *testing.T) {
	base := DeriveProofRef(proof)
	for _, p := range []Proof{
		{DistrictHash: "d-2", Nullifier: "n-1", MerkleRoot: "root-1"},
		{DistrictHash: "d-1", Nullifier: "n-2", MerkleRoot: "root-1"},
		{DistrictHash: "d-1", Nullifier: "n-1", MerkleRoot: "root-2"},
	} {
		assert.NotEqual(t, base, DeriveProofRef(p), "%+v", p)
	}
}

func TestDeriveProofRefIsOrderSensitive(t *testing.T) {
	swapped := Proof{DistrictHash: "n-1", Nullifier: "d-1", MerkleRoot: "root-1"}
	assert.NotEqual(t, DeriveProofRef(proof), DeriveProofRef(swapped))
}

func TestDeriveProofRefDoesNotLeakFields(t *testing.T) {
	ref := DeriveProofRef(proof)
	assert.NotContains(t, ref, proof.Nullifier)
	assert.NotContains(t, ref, proof.DistrictHash)
	assert.NotContains(t, ref, proof.MerkleRoot)
}

func TestVoterKeyForIsOneWay(t *testing.T) {
	k := VoterKeyFor("n-1")
	assert.Equal(t, k, VoterKeyFor("n-1"))
	assert.NotEqual(t, k, VoterKeyFor("n-2"))
	assert.NotContains(t, k, "n-1")
}

func TestValidate(t *testing.T) {
	v := NewValidator(nil)
	require.NoError(t, v.Validate(&proof))

	assert.ErrorIs(t, v.Validate(nil), ErrProofMissing)
	assert.ErrorIs(t, v.Validate(&Proof{}), ErrProofMissing)
	assert.ErrorIs(t, v.Validate(&Proof{DistrictHash: "d", MerkleRoot: "r"}), ErrProofInvalid)
}

func TestValidateAcceptedRoots(t *testing.T) {
	v := NewValidator([]string{"root-1", " "})
	require.NoError(t, v.Validate(&proof))
	other := proof
	other.MerkleRoot = "root-9"
	assert.ErrorIs(t, v.Validate(&other), ErrProofInvalid)
}
