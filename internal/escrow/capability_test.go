package escrow

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey("0xabc", "USDC")
	k2 := DeriveKey("0xabc", "USDC")
	if k1 != k2 {
		t.Errorf("DeriveKey not deterministic: %q != %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "esk_") {
		t.Errorf("key = %q, want esk_ prefix", k1)
	}

	if DeriveKey("0xdef", "USDC") == k1 {
		t.Error("different providers derived the same key")
	}
	if DeriveKey("0xabc", "DAI") == k1 {
		t.Error("different assets derived the same key")
	}

	// Concatenation across the separator must not collide.
	if DeriveKey("0xab", "cUSDC") == DeriveKey("0xabc", "USDC") {
		t.Error("key derivation is ambiguous across field boundaries")
	}
}

func TestDeriveCustodyAccount(t *testing.T) {
	key := DeriveKey("0xabc", "USDC")
	c1 := DeriveCustodyAccount(key)
	c2 := DeriveCustodyAccount(key)
	if c1 != c2 {
		t.Errorf("DeriveCustodyAccount not deterministic: %q != %q", c1, c2)
	}
	if !strings.HasPrefix(c1, "cst_") {
		t.Errorf("custody account = %q, want cst_ prefix", c1)
	}
	if DeriveCustodyAccount(DeriveKey("0xdef", "USDC")) == c1 {
		t.Error("different keys derived the same custody account")
	}
}

func TestCapabilityProof(t *testing.T) {
	cap1 := newCapability([]byte("secret-a"))
	cap2 := newCapability([]byte("secret-b"))

	p1 := cap1.proofFor("cst_account")
	if !bytes.Equal(p1, cap1.proofFor("cst_account")) {
		t.Error("proof not deterministic for the same secret and account")
	}
	if bytes.Equal(p1, cap1.proofFor("cst_other")) {
		t.Error("proofs for different accounts must differ")
	}
	if bytes.Equal(p1, cap2.proofFor("cst_account")) {
		t.Error("proofs under different secrets must differ")
	}
}

func TestNewCapability_EmptySecret(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("newCapability with empty secret did not panic")
		}
	}()
	newCapability(nil)
}
