// Package ledger tracks agent balances and moves value between accounts.
//
// It is the system of record for asset balances. Two account classes exist:
//   - agent accounts, owned by the agent whose address names them
//   - custody accounts ("cst_" prefix), owned by the escrow engine
//
// Outbound transfers from custody accounts require a capability proof
// derived from the shared custody secret; agent accounts rely on the
// caller's identity having been established upstream by the auth layer.
package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/skillvault/internal/usdc"
)

var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAccount    = errors.New("account not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrUnauthorized      = errors.New("transfer not authorized")
	ErrDuplicateDeposit  = errors.New("deposit already processed")
)

// custodyPrefix marks custody-class accounts.
const custodyPrefix = "cst_"

// IsCustodyAccount reports whether an account is custody-class.
func IsCustodyAccount(account string) bool {
	return strings.HasPrefix(account, custodyPrefix)
}

// Entry is one row of the transfer journal.
type Entry struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Type      string    `json:"type"` // deposit, withdrawal, transfer_out, transfer_in
	Asset     string    `json:"asset"`
	Amount    string    `json:"amount"`
	Reference string    `json:"reference,omitempty"` // escrow ID, deposit tx, etc.
	CreatedAt time.Time `json:"createdAt"`
}

// Balance is an account's current holding of one asset.
type Balance struct {
	Account   string    `json:"account"`
	Asset     string    `json:"asset"`
	Available string    `json:"available"`
	TotalIn   string    `json:"totalIn"`  // lifetime credits
	TotalOut  string    `json:"totalOut"` // lifetime debits
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists balances and the journal. Move must debit and credit in
// one atomic step: both legs land or neither does.
type Store interface {
	GetBalance(ctx context.Context, account, asset string) (*Balance, error)
	Credit(ctx context.Context, account, asset, amount, txRef, description string) error
	Move(ctx context.Context, from, to, asset, amount, reference string) error
	Withdraw(ctx context.Context, account, asset, amount, txRef string) error
	GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error)
	HasDeposit(ctx context.Context, txRef string) (bool, error)
}

// Ledger manages balances and authorizes transfers.
type Ledger struct {
	store  Store
	secret []byte // custody capability verification secret
	logger *slog.Logger
}

// New creates a ledger. secret must match the escrow engine's custody
// secret; custody-outbound transfers are verified against it.
func New(store Store, secret []byte) *Ledger {
	return &Ledger{store: store, secret: secret, logger: slog.Default()}
}

// WithLogger sets a structured logger.
func (l *Ledger) WithLogger(lg *slog.Logger) *Ledger {
	l.logger = lg
	return l
}

// Transfer moves amount of asset between two accounts.
//
// proof is required and verified when from is a custody account; for agent
// accounts proof must be nil and the caller's control of from must have
// been established upstream. Both legs commit atomically in the store.
func (l *Ledger) Transfer(ctx context.Context, from, to, asset, amount, reference string, proof []byte) error {
	amt, ok := usdc.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrInvalidAccount
	}

	if IsCustodyAccount(from) {
		if !l.verifyCustodyProof(from, proof) {
			return ErrUnauthorized
		}
	} else if proof != nil {
		// Capability proofs mean nothing for agent accounts; passing one is
		// a caller bug, not an authorization.
		return ErrUnauthorized
	}

	from = normalize(from)
	to = normalize(to)

	if err := l.store.Move(ctx, from, to, asset, amount, reference); err != nil {
		return err
	}

	l.logger.Debug("transfer complete",
		"from", from, "to", to, "asset", asset, "amount", amount, "reference", reference)
	return nil
}

// verifyCustodyProof checks a capability proof for a custody account. The
// derivation mirrors the escrow engine's: HMAC-SHA256(secret, account).
func (l *Ledger) verifyCustodyProof(account string, proof []byte) bool {
	if len(proof) == 0 || len(l.secret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(account))
	return hmac.Equal(proof, mac.Sum(nil))
}

// GetBalance returns an account's balance for an asset.
func (l *Ledger) GetBalance(ctx context.Context, account, asset string) (*Balance, error) {
	return l.store.GetBalance(ctx, normalize(account), asset)
}

// Deposit credits an account. txRef deduplicates redelivered deposits.
func (l *Ledger) Deposit(ctx context.Context, account, asset, amount, txRef string) error {
	amt, ok := usdc.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	exists, err := l.store.HasDeposit(ctx, txRef)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateDeposit
	}

	return l.store.Credit(ctx, normalize(account), asset, amount, txRef, "deposit")
}

// Withdraw debits an account for an off-platform payout.
func (l *Ledger) Withdraw(ctx context.Context, account, asset, amount, txRef string) error {
	amt, ok := usdc.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if IsCustodyAccount(account) {
		return ErrUnauthorized
	}

	bal, err := l.store.GetBalance(ctx, normalize(account), asset)
	if err != nil {
		return err
	}
	avail, _ := usdc.Parse(bal.Available)
	if avail.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}

	return l.store.Withdraw(ctx, normalize(account), asset, amount, txRef)
}

// GetHistory returns journal entries for an account.
func (l *Ledger) GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, normalize(account), limit)
}

func normalize(account string) string {
	if IsCustodyAccount(account) {
		return account
	}
	return strings.ToLower(account)
}
