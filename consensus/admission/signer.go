package admission

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"civicmesh/engine/library"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var ErrBadSignature = errors.New("receipt signature does not verify")

// Signer signs receipts with the node's wallet key.
type Signer struct {
	key     *btcec.PrivateKey
	account library.Account
}

func NewSigner(privateKeyHex string) (*Signer, error) {
	b, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding signing key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("signing key must be 32 bytes, got %d", len(b))
	}
	priv, pub := btcec.PrivKeyFromBytes(b)
	return &Signer{key: priv, account: hex.EncodeToString(schnorr.SerializePubKey(pub))}, nil
}

func (s *Signer) Account() library.Account {
	return s.account
}

// digest covers every receipt field except the signature itself.
func digest(r Receipt) ([]byte, error) {
	r.Signature = ""
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return library.Sha256Digest(b), nil
}

func (s *Signer) Sign(r Receipt) (Receipt, error) {
	r.Signer = s.account
	d, err := digest(r)
	if err != nil {
		return r, err
	}
	sig, err := schnorr.Sign(s.key, d)
	if err != nil {
		return r, err
	}
	r.Signature = hex.EncodeToString(sig.Serialize())
	return r, nil
}

func VerifyReceipt(r Receipt) error {
	pubBytes, err := hex.DecodeString(r.Signer)
	if err != nil {
		return fmt.Errorf("%w: signer: %s", ErrBadSignature, err.Error())
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: signer: %s", ErrBadSignature, err.Error())
	}
	sigBytes, err := hex.DecodeString(r.Signature)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadSignature, err.Error())
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadSignature, err.Error())
	}
	d, err := digest(r)
	if err != nil {
		return err
	}
	if !sig.Verify(d, pub) {
		return ErrBadSignature
	}
	return nil
}
