package escrow

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// keySeed namespaces derived escrow keys, the way a program seed namespaces
// derived addresses on chain.
const keySeed = "skillvault-escrow"

// DeriveKey returns the deterministic escrow key for a provider and asset.
// One provider has exactly one key per asset, so at most one active escrow.
func DeriveKey(provider, asset string) string {
	h := sha256.New()
	h.Write([]byte(keySeed))
	h.Write([]byte{0})
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(asset))
	return "esk_" + hex.EncodeToString(h.Sum(nil)[:16])
}

// DeriveCustodyAccount returns the ledger account that holds locked funds
// for an escrow key. The "cst_" prefix marks the account as custody-class:
// the ledger refuses outbound transfers from it without a capability proof.
func DeriveCustodyAccount(key string) string {
	h := sha256.Sum256([]byte("custody:" + key))
	return "cst_" + hex.EncodeToString(h[:16])
}

// capability authorizes outbound transfers from custody accounts.
//
// Proofs are derived deterministically from the engine secret and the
// custody account, and exist only transiently inside a ledger call. The
// capability is never serialized, logged, or returned to callers; holding
// it is what makes the engine — and only the engine — able to move locked
// funds.
type capability struct {
	secret []byte
}

func newCapability(secret []byte) *capability {
	if len(secret) == 0 {
		panic("escrow: custody secret must not be empty")
	}
	return &capability{secret: secret}
}

// proofFor derives the transfer-authority proof for a custody account.
func (c *capability) proofFor(account string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(account))
	return mac.Sum(nil)
}

func newEscrowID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("esc_%x", b)
}
