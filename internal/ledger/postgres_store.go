package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbd888/skillvault/internal/idgen"
)

// PostgresStore persists ledger data in PostgreSQL.
//
// Balances are NUMERIC(20,6); all arithmetic happens inside transactions
// with the from-row locked, so concurrent moves against one account
// serialize at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetBalance(ctx context.Context, account, asset string) (*Balance, error) {
	bal := &Balance{}
	err := p.db.QueryRowContext(ctx, `
		SELECT account, asset, available, total_in, total_out, updated_at
		FROM ledger_balances
		WHERE account = $1 AND asset = $2`, account, asset).
		Scan(&bal.Account, &bal.Asset, &bal.Available, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidAccount
	}
	return bal, err
}

func (p *PostgresStore) Credit(ctx context.Context, account, asset, amount, txRef, description string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (account, asset, available, total_in, total_out, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $3::NUMERIC(20,6), 0, NOW())
		ON CONFLICT (account, asset) DO UPDATE SET
			available = ledger_balances.available + $3::NUMERIC(20,6),
			total_in = ledger_balances.total_in + $3::NUMERIC(20,6),
			updated_at = NOW()`,
		account, asset, amount); err != nil {
		return err
	}

	if err := insertEntry(ctx, tx, account, "deposit", asset, amount, txRef); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Move(ctx context.Context, from, to, asset, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the from-row; the balance check and debit must see the same value.
	var available string
	err = tx.QueryRowContext(ctx, `
		SELECT available FROM ledger_balances
		WHERE account = $1 AND asset = $2
		FOR UPDATE`, from, asset).Scan(&available)
	if err == sql.ErrNoRows {
		return ErrInvalidAccount
	}
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_balances SET
			available = available - $3::NUMERIC(20,6),
			total_out = total_out + $3::NUMERIC(20,6),
			updated_at = NOW()
		WHERE account = $1 AND asset = $2
		  AND available >= $3::NUMERIC(20,6)`,
		from, asset, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (account, asset, available, total_in, total_out, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), $3::NUMERIC(20,6), 0, NOW())
		ON CONFLICT (account, asset) DO UPDATE SET
			available = ledger_balances.available + $3::NUMERIC(20,6),
			total_in = ledger_balances.total_in + $3::NUMERIC(20,6),
			updated_at = NOW()`,
		to, asset, amount); err != nil {
		return err
	}

	if err := insertEntry(ctx, tx, from, "transfer_out", asset, amount, reference); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, to, "transfer_in", asset, amount, reference); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Withdraw(ctx context.Context, account, asset, amount, txRef string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_balances SET
			available = available - $3::NUMERIC(20,6),
			total_out = total_out + $3::NUMERIC(20,6),
			updated_at = NOW()
		WHERE account = $1 AND asset = $2
		  AND available >= $3::NUMERIC(20,6)`,
		account, asset, amount)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientFunds
	}

	if err := insertEntry(ctx, tx, account, "withdrawal", asset, amount, txRef); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) GetHistory(ctx context.Context, account string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account, type, asset, amount, reference, created_at
		FROM ledger_entries
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT $2`, account, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var ref sql.NullString
		if err := rows.Scan(&e.ID, &e.Account, &e.Type, &e.Asset, &e.Amount, &ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reference = ref.String
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) HasDeposit(ctx context.Context, txRef string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE type = 'deposit' AND reference = $1
		)`, txRef).Scan(&exists)
	return exists, err
}

func insertEntry(ctx context.Context, tx *sql.Tx, account, entryType, asset, amount, reference string) error {
	ref := sql.NullString{String: reference, Valid: reference != ""}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account, type, asset, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6, NOW())`,
		idgen.WithPrefix("le_"), account, entryType, asset, amount, ref); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
