package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/skillvault/internal/idgen"
	"github.com/mbd888/skillvault/internal/usdc"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]*Balance // keyed by account + "/" + asset
	entries  []*Entry
	deposits map[string]bool // txRef -> seen
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		deposits: make(map[string]bool),
	}
}

func balKey(account, asset string) string { return account + "/" + asset }

// getOrCreate returns the balance entry, creating a zero balance for new
// accounts. Caller holds the lock.
func (m *MemoryStore) getOrCreate(account, asset string) *Balance {
	key := balKey(account, asset)
	bal, ok := m.balances[key]
	if !ok {
		bal = &Balance{
			Account:   account,
			Asset:     asset,
			Available: "0",
			TotalIn:   "0",
			TotalOut:  "0",
			UpdatedAt: time.Now(),
		}
		m.balances[key] = bal
	}
	return bal
}

func (m *MemoryStore) GetBalance(ctx context.Context, account, asset string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[balKey(account, asset)]
	if !ok {
		return nil, ErrInvalidAccount
	}
	cp := *bal
	return &cp, nil
}

func (m *MemoryStore) Credit(ctx context.Context, account, asset, amount, txRef, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(account, asset)

	avail, _ := usdc.Parse(bal.Available)
	totalIn, _ := usdc.Parse(bal.TotalIn)
	add, _ := usdc.Parse(amount)

	avail.Add(avail, add)
	totalIn.Add(totalIn, add)
	bal.Available = usdc.Format(avail)
	bal.TotalIn = usdc.Format(totalIn)
	bal.UpdatedAt = time.Now()

	if txRef != "" {
		m.deposits[txRef] = true
	}
	m.entries = append(m.entries, &Entry{
		ID:        idgen.WithPrefix("le_"),
		Account:   account,
		Type:      "deposit",
		Asset:     asset,
		Amount:    amount,
		Reference: txRef,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemoryStore) Move(ctx context.Context, from, to, asset, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromBal, ok := m.balances[balKey(from, asset)]
	if !ok {
		return ErrInvalidAccount
	}

	avail, _ := usdc.Parse(fromBal.Available)
	sub, _ := usdc.Parse(amount)
	if avail.Cmp(sub) < 0 {
		return ErrInsufficientFunds
	}

	toBal := m.getOrCreate(to, asset)

	// Both legs under one lock: the move is atomic.
	fromOut, _ := usdc.Parse(fromBal.TotalOut)
	avail.Sub(avail, sub)
	fromOut.Add(fromOut, sub)
	fromBal.Available = usdc.Format(avail)
	fromBal.TotalOut = usdc.Format(fromOut)
	fromBal.UpdatedAt = time.Now()

	toAvail, _ := usdc.Parse(toBal.Available)
	toIn, _ := usdc.Parse(toBal.TotalIn)
	toAvail.Add(toAvail, sub)
	toIn.Add(toIn, sub)
	toBal.Available = usdc.Format(toAvail)
	toBal.TotalIn = usdc.Format(toIn)
	toBal.UpdatedAt = time.Now()

	now := time.Now()
	m.entries = append(m.entries,
		&Entry{
			ID: idgen.WithPrefix("le_"), Account: from, Type: "transfer_out",
			Asset: asset, Amount: amount, Reference: reference, CreatedAt: now,
		},
		&Entry{
			ID: idgen.WithPrefix("le_"), Account: to, Type: "transfer_in",
			Asset: asset, Amount: amount, Reference: reference, CreatedAt: now,
		},
	)
	return nil
}

func (m *MemoryStore) Withdraw(ctx context.Context, account, asset, amount, txRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[balKey(account, asset)]
	if !ok {
		return ErrInvalidAccount
	}

	avail, _ := usdc.Parse(bal.Available)
	totalOut, _ := usdc.Parse(bal.TotalOut)
	sub, _ := usdc.Parse(amount)
	if avail.Cmp(sub) < 0 {
		return ErrInsufficientFunds
	}

	avail.Sub(avail, sub)
	totalOut.Add(totalOut, sub)
	bal.Available = usdc.Format(avail)
	bal.TotalOut = usdc.Format(totalOut)
	bal.UpdatedAt = time.Now()

	m.entries = append(m.entries, &Entry{
		ID:        idgen.WithPrefix("le_"),
		Account:   account,
		Type:      "withdrawal",
		Asset:     asset,
		Amount:    amount,
		Reference: txRef,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].Account == account {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) HasDeposit(ctx context.Context, txRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deposits[txRef], nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
