package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, key, provider, renter, asset, custody_account,
		       skill_name, duration_seconds, price_ref, metadata_uri,
		       amount, state, dispute_reason,
		       created_at, funded_at, completed_at, disputed_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, key, provider, renter, asset, custody_account,
			skill_name, duration_seconds, price_ref, metadata_uri,
			amount, state, dispute_reason,
			created_at, funded_at, completed_at, disputed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11::NUMERIC(20,6), $12, $13,
			$14, $15, $16, $17, $18
		)`,
		e.ID, e.Key, e.Provider, nullString(e.Renter), e.Asset, e.CustodyAccount,
		e.Terms.SkillName, e.Terms.DurationSeconds, int64(e.Terms.PriceRef), nullString(e.Terms.MetadataURI),
		e.Amount, string(e.State), nullString(e.DisputeReason),
		e.CreatedAt, nullTime(e.FundedAt), nullTime(e.CompletedAt), nullTime(e.DisputedAt), e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) GetActiveByKey(ctx context.Context, key string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE key = $1 AND state NOT IN ('released', 'refunded')
		LIMIT 1`, key)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			renter = $1, amount = $2::NUMERIC(20,6), state = $3,
			skill_name = $4, duration_seconds = $5, price_ref = $6, metadata_uri = $7,
			dispute_reason = $8, created_at = $9, funded_at = $10,
			completed_at = $11, disputed_at = $12, updated_at = $13
		WHERE id = $14`,
		nullString(e.Renter), e.Amount, string(e.State),
		e.Terms.SkillName, e.Terms.DurationSeconds, int64(e.Terms.PriceRef), nullString(e.Terms.MetadataURI),
		nullString(e.DisputeReason), e.CreatedAt, nullTime(e.FundedAt),
		nullTime(e.CompletedAt), nullTime(e.DisputedAt), e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE provider = $1 OR renter = $1
		ORDER BY created_at DESC
		LIMIT $2`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListFundedBefore(ctx context.Context, expiry time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE state = 'funded'
		  AND created_at + duration_seconds * INTERVAL '1 second' < $1
		LIMIT $2`, expiry, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListHoldingFunds(ctx context.Context, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE state IN ('funded', 'disputed')
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		renter        sql.NullString
		metadataURI   sql.NullString
		disputeReason sql.NullString
		priceRef      int64
		state         string
		fundedAt      sql.NullTime
		completedAt   sql.NullTime
		disputedAt    sql.NullTime
	)

	err := s.Scan(
		&e.ID, &e.Key, &e.Provider, &renter, &e.Asset, &e.CustodyAccount,
		&e.Terms.SkillName, &e.Terms.DurationSeconds, &priceRef, &metadataURI,
		&e.Amount, &state, &disputeReason,
		&e.CreatedAt, &fundedAt, &completedAt, &disputedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Renter = renter.String
	e.Terms.PriceRef = uint64(priceRef)
	e.Terms.MetadataURI = metadataURI.String
	e.State = State(state)
	e.DisputeReason = disputeReason.String
	if fundedAt.Valid {
		e.FundedAt = &fundedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	if disputedAt.Valid {
		e.DisputedAt = &disputedAt.Time
	}

	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
