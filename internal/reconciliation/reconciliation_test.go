package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/skillvault/internal/escrow"
	"github.com/mbd888/skillvault/internal/ledger"
)

type mockLister struct {
	records []*escrow.Escrow
	err     error
}

func (m *mockLister) ListHoldingFunds(_ context.Context, limit int) ([]*escrow.Escrow, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.records) > limit {
		return m.records[:limit], nil
	}
	return m.records, nil
}

type mockBalances struct {
	balances map[string]string // account -> available
}

func (m *mockBalances) GetBalance(_ context.Context, account, asset string) (*ledger.Balance, error) {
	avail, ok := m.balances[account]
	if !ok {
		avail = "0.000000"
	}
	return &ledger.Balance{Account: account, Asset: asset, Available: avail}, nil
}

func fundedRecord(id, custody, amount string) *escrow.Escrow {
	return &escrow.Escrow{
		ID:             id,
		CustodyAccount: custody,
		Asset:          "USDC",
		Amount:         amount,
		State:          escrow.StateFunded,
	}
}

func TestReconcileCustody_Match(t *testing.T) {
	lister := &mockLister{records: []*escrow.Escrow{
		fundedRecord("esc_1", "cst_aaaa", "10.000000"),
		fundedRecord("esc_2", "cst_bbbb", "2.500000"),
	}}
	balances := &mockBalances{balances: map[string]string{
		"cst_aaaa": "10.000000",
		"cst_bbbb": "2.500000",
	}}

	res, err := NewService(lister, balances).ReconcileCustody(context.Background())
	if err != nil {
		t.Fatalf("ReconcileCustody failed: %v", err)
	}
	if !res.Match {
		t.Errorf("expected match, got mismatches: %+v", res.Mismatches)
	}
	if res.Checked != 2 {
		t.Errorf("checked = %d, want 2", res.Checked)
	}
	if res.EscrowTotal != "12.500000" || res.CustodyTotal != "12.500000" {
		t.Errorf("totals = %s/%s, want 12.500000 both", res.EscrowTotal, res.CustodyTotal)
	}
}

func TestReconcileCustody_DrainedAccount(t *testing.T) {
	lister := &mockLister{records: []*escrow.Escrow{
		fundedRecord("esc_1", "cst_aaaa", "10.000000"),
	}}
	// Custody never credited; the record claims funds that are not there.
	balances := &mockBalances{balances: map[string]string{}}

	res, err := NewService(lister, balances).ReconcileCustody(context.Background())
	if err != nil {
		t.Fatalf("ReconcileCustody failed: %v", err)
	}
	if res.Match {
		t.Fatal("expected mismatch for drained custody account")
	}
	if len(res.Mismatches) != 1 {
		t.Fatalf("mismatches = %d, want 1", len(res.Mismatches))
	}
	m := res.Mismatches[0]
	if m.EscrowID != "esc_1" || m.Expected != "10.000000" || m.Actual != "0.000000" {
		t.Errorf("mismatch = %+v", m)
	}
	if m.Diff != "-10.000000" {
		t.Errorf("diff = %s, want -10.000000", m.Diff)
	}
}

func TestReconcileCustody_DisputedStillHolds(t *testing.T) {
	rec := fundedRecord("esc_1", "cst_aaaa", "7.000000")
	rec.State = escrow.StateDisputed
	lister := &mockLister{records: []*escrow.Escrow{rec}}
	balances := &mockBalances{balances: map[string]string{"cst_aaaa": "7.000000"}}

	res, err := NewService(lister, balances).ReconcileCustody(context.Background())
	if err != nil {
		t.Fatalf("ReconcileCustody failed: %v", err)
	}
	if !res.Match {
		t.Errorf("disputed escrow with full custody balance must match, got %+v", res.Mismatches)
	}
}

func TestReconcileCustody_ListError(t *testing.T) {
	lister := &mockLister{err: errors.New("store down")}
	if _, err := NewService(lister, &mockBalances{}).ReconcileCustody(context.Background()); err == nil {
		t.Fatal("expected error when listing fails")
	}
}

func TestTimer_StartStop(t *testing.T) {
	svc := NewService(&mockLister{}, &mockBalances{})
	tm := NewTimer(svc, slog.Default()).WithInterval(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		tm.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for !tm.Running() {
		select {
		case <-deadline:
			t.Fatal("timer never reported running")
		case <-time.After(5 * time.Millisecond):
		}
	}

	tm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	if tm.Running() {
		t.Error("timer still reports running after stop")
	}
}

// End to end over the real stores: fund an escrow through the engine, then
// verify the sweep sees custody and records in agreement, and catches a
// balance the engine did not put there.
func TestReconcileCustody_RealLedger(t *testing.T) {
	ctx := context.Background()
	secret := []byte("test-custody-secret-0123456789ab")
	ledg := ledger.New(ledger.NewMemoryStore(), secret)
	store := escrow.NewMemoryStore()
	svc := escrow.NewService(store, ledg, secret)

	renter := "0xbbbb567890123456789012345678901234567890"
	esc, err := svc.Create(ctx, escrow.CreateRequest{
		Provider:        "0xaaaa567890123456789012345678901234567890",
		SkillName:       "sentiment-analysis",
		DurationSeconds: 3600,
		PriceRef:        5,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := ledg.Deposit(ctx, renter, esc.Asset, "5.000000", "tx_fund"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := svc.Fund(ctx, esc.ID, renter, "5.000000"); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}

	recon := NewService(store, ledg)
	res, err := recon.ReconcileCustody(ctx)
	if err != nil {
		t.Fatalf("ReconcileCustody failed: %v", err)
	}
	if !res.Match || res.Checked != 1 {
		t.Fatalf("after funding: match=%v checked=%d, want clean single record", res.Match, res.Checked)
	}

	// A stray credit lands in custody outside the engine's flow.
	if err := ledg.Deposit(ctx, esc.CustodyAccount, esc.Asset, "1.000000", "tx_stray"); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	res, err = recon.ReconcileCustody(ctx)
	if err != nil {
		t.Fatalf("ReconcileCustody failed: %v", err)
	}
	if res.Match || len(res.Mismatches) != 1 {
		t.Fatalf("stray custody credit not flagged: %+v", res)
	}
	if res.Mismatches[0].Diff != "1.000000" {
		t.Errorf("diff = %s, want 1.000000", res.Mismatches[0].Diff)
	}
}
