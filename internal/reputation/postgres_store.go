package reputation

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresOutcomeStore persists outcomes in PostgreSQL
type PostgresOutcomeStore struct {
	db *sql.DB
}

// NewPostgresOutcomeStore creates a PostgreSQL-backed outcome store
func NewPostgresOutcomeStore(db *sql.DB) *PostgresOutcomeStore {
	return &PostgresOutcomeStore{db: db}
}

func (p *PostgresOutcomeStore) Record(ctx context.Context, o *Outcome) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rental_outcomes (id, escrow_id, provider, renter, amount, skill_name, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.EscrowID, strings.ToLower(o.Provider), strings.ToLower(o.Renter),
		o.Amount, o.SkillName, o.Result, o.CreatedAt)
	return err
}

func (p *PostgresOutcomeStore) ListByAgent(ctx context.Context, addr string, limit int) ([]*Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, escrow_id, provider, renter, amount, skill_name, result, created_at
		FROM rental_outcomes
		WHERE provider = $1 OR renter = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.ToLower(addr), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var outcomes []*Outcome
	for rows.Next() {
		o := &Outcome{}
		if err := rows.Scan(&o.ID, &o.EscrowID, &o.Provider, &o.Renter,
			&o.Amount, &o.SkillName, &o.Result, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (p *PostgresOutcomeStore) ListAgents(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT provider FROM rental_outcomes
		UNION
		SELECT DISTINCT renter FROM rental_outcomes
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		agents = append(agents, addr)
	}
	return agents, rows.Err()
}

var _ OutcomeStore = (*PostgresOutcomeStore)(nil)
