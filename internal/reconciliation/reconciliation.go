// Package reconciliation verifies that custody balances match the escrow
// records they back.
package reconciliation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/mbd888/skillvault/internal/escrow"
	"github.com/mbd888/skillvault/internal/ledger"
	"github.com/mbd888/skillvault/internal/usdc"
)

// CustodyLister returns escrow records whose custody accounts hold funds.
type CustodyLister interface {
	ListHoldingFunds(ctx context.Context, limit int) ([]*escrow.Escrow, error)
}

// BalanceReader reads one account balance from the ledger.
type BalanceReader interface {
	GetBalance(ctx context.Context, account, asset string) (*ledger.Balance, error)
}

// Mismatch is one custody account whose balance deviates from its record.
type Mismatch struct {
	EscrowID       string `json:"escrowId"`
	CustodyAccount string `json:"custodyAccount"`
	State          string `json:"state"`
	Expected       string `json:"expected"`
	Actual         string `json:"actual"`
	Diff           string `json:"diff"` // actual - expected
}

// Result holds the outcome of one custody reconciliation sweep.
type Result struct {
	Checked      int        `json:"checked"`
	EscrowTotal  string     `json:"escrowTotal"`
	CustodyTotal string     `json:"custodyTotal"`
	Mismatches   []Mismatch `json:"mismatches,omitempty"`
	Match        bool       `json:"match"`
}

// Service compares custody account balances against escrow records.
type Service struct {
	escrows CustodyLister
	ledger  BalanceReader
	limit   int
}

// NewService creates a reconciliation service.
func NewService(escrows CustodyLister, ledger BalanceReader) *Service {
	return &Service{escrows: escrows, ledger: ledger, limit: 1000}
}

// ReconcileCustody walks every escrow that should be holding funds and
// compares its custody account balance against the recorded amount. Custody
// holds the exact deposit from funding until settlement, so the comparison
// is exact: any nonzero diff means funds conservation was violated.
func (s *Service) ReconcileCustody(ctx context.Context) (*Result, error) {
	records, err := s.escrows.ListHoldingFunds(ctx, s.limit)
	if err != nil {
		return nil, fmt.Errorf("list escrows holding funds: %w", err)
	}

	res := &Result{Checked: len(records), Match: true}
	escrowTotal := new(big.Int)
	custodyTotal := new(big.Int)

	for _, e := range records {
		expected, ok := usdc.Parse(e.Amount)
		if !ok {
			return nil, fmt.Errorf("escrow %s: unparseable amount %q", e.ID, e.Amount)
		}
		bal, err := s.ledger.GetBalance(ctx, e.CustodyAccount, e.Asset)
		if err != nil {
			return nil, fmt.Errorf("custody balance for escrow %s: %w", e.ID, err)
		}
		actual, ok := usdc.Parse(bal.Available)
		if !ok {
			return nil, fmt.Errorf("custody account %s: unparseable balance %q", e.CustodyAccount, bal.Available)
		}

		escrowTotal.Add(escrowTotal, expected)
		custodyTotal.Add(custodyTotal, actual)

		if expected.Cmp(actual) != 0 {
			res.Match = false
			res.Mismatches = append(res.Mismatches, Mismatch{
				EscrowID:       e.ID,
				CustodyAccount: e.CustodyAccount,
				State:          string(e.State),
				Expected:       usdc.Format(expected),
				Actual:         usdc.Format(actual),
				Diff:           usdc.Format(new(big.Int).Sub(actual, expected)),
			})
		}
	}

	res.EscrowTotal = usdc.Format(escrowTotal)
	res.CustodyTotal = usdc.Format(custodyTotal)
	return res, nil
}
