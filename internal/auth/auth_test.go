package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const agentAddr = "0xAAAA567890123456789012345678901234567890"

func TestGenerateAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, agentAddr, "test key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if !strings.HasPrefix(rawKey, "sk_") {
		t.Errorf("raw key = %q, want sk_ prefix", rawKey)
	}
	if !strings.HasPrefix(key.ID, "ak_") {
		t.Errorf("key ID = %q, want ak_ prefix", key.ID)
	}
	if key.AgentAddr != strings.ToLower(agentAddr) {
		t.Errorf("agentAddr = %q, want lowercased", key.AgentAddr)
	}
	if key.Hash == rawKey {
		t.Error("stored hash must not equal the raw key")
	}

	got, err := m.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Fatalf("ValidateKey failed: %v", err)
	}
	if got.ID != key.ID {
		t.Errorf("validated key ID = %q, want %q", got.ID, key.ID)
	}

	// Bearer prefix is accepted.
	if _, err := m.ValidateKey(ctx, "Bearer "+rawKey); err != nil {
		t.Errorf("ValidateKey with Bearer prefix failed: %v", err)
	}
}

func TestValidateKey_Invalid(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	if _, err := m.ValidateKey(ctx, ""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("empty key err = %v, want ErrNoAPIKey", err)
	}
	if _, err := m.ValidateKey(ctx, "not-a-key"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("malformed key err = %v, want ErrInvalidAPIKey", err)
	}
	if _, err := m.ValidateKey(ctx, "sk_deadbeef"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("unknown key err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestValidateKey_Revoked(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, agentAddr, "to revoke")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := m.RevokeKey(ctx, key.ID, strings.ToLower(agentAddr)); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}
	if _, err := m.ValidateKey(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("revoked key err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestValidateKey_Expired(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, agentAddr, "expiring")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := store.Update(ctx, key); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := m.ValidateKey(ctx, rawKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expired key err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestRevokeKey_NotOwned(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, key, err := m.GenerateKey(ctx, agentAddr, "mine")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	err = m.RevokeKey(ctx, key.ID, "0xbbbb567890123456789012345678901234567890")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("revoke by non-owner err = %v, want ErrKeyNotFound", err)
	}
}

func TestListKeys(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := m.GenerateKey(ctx, agentAddr, "key"); err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}
	}

	keys, err := m.ListKeys(ctx, agentAddr)
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("got %d keys, want 3", len(keys))
	}
}
