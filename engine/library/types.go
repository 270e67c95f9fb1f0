package library

type Wallet struct {
	PrivateKey string
	SeedWords  string
	Account    Account
}

// Account is a hex encoded x-only public key.
type Account = string

type Sha256 = string

type TopicID = string

type PointID = string

// VoterKey is the one-way key a voter's nullifier is reduced to before it
// reaches aggregate state.
type VoterKey = string
