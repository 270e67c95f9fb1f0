package actors

import (
	"encoding/hex"
	"fmt"

	"civicmesh/engine/library"
	"civicmesh/engine/store"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip06"
)

const walletKey = "wallet"

// LoadOrCreateWallet restores the node wallet from local state, or generates
// and persists a new one. The wallet signs receipts and mesh events.
func LoadOrCreateWallet(s store.Store) (library.Wallet, error) {
	w := store.LoadJSON(s, walletKey, library.Wallet{})
	if len(w.PrivateKey) == 64 {
		if account := getPubKey(w.PrivateKey); account != "" {
			w.Account = account
			return w, nil
		}
		library.LogCLI("stored wallet has an unusable private key, generating a new one", 2)
	}
	library.LogCLI("Generating a new wallet, write down the seed words if you want to keep it", 4)
	w, err := makeNewWallet()
	if err != nil {
		return library.Wallet{}, err
	}
	if !store.SaveJSON(s, walletKey, w) {
		library.LogCLI("new wallet was not persisted and will be lost on restart", 2)
	}
	return w, nil
}

func makeNewWallet() (library.Wallet, error) {
	seedWords, err := nip06.GenerateSeedWords()
	if err != nil {
		return library.Wallet{}, fmt.Errorf("generating seed words: %w", err)
	}
	seed := nip06.SeedFromWords(seedWords)
	sk, err := nip06.PrivateKeyFromSeed(seed)
	if err != nil {
		return library.Wallet{}, fmt.Errorf("deriving private key: %w", err)
	}
	return library.Wallet{
		PrivateKey: sk,
		SeedWords:  seedWords,
		Account:    getPubKey(sk),
	}, nil
}

func getPubKey(privateKey string) string {
	if keyb, err := hex.DecodeString(privateKey); err != nil {
		library.LogCLI(fmt.Sprintf("Error decoding key from hex: %s\n", err.Error()), 1)
	} else {
		_, pubkey := btcec.PrivKeyFromBytes(keyb)
		return hex.EncodeToString(schnorr.SerializePubKey(pubkey))
	}
	return ""
}
