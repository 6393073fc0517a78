package reputation

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// snapCols is the column list shared by every snapshot query, in scan order.
const snapCols = `address, score, tier, volume_score, activity_score, success_score,
	age_score, diversity_score, total_rentals, total_volume, release_rate, unique_peers`

// PostgresSnapshotStore implements SnapshotStore backed by PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore creates a PostgreSQL-backed snapshot store.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func snapArgs(s *Snapshot) []interface{} {
	return []interface{}{
		strings.ToLower(s.Address), s.Score, string(s.Tier),
		s.VolumeScore, s.ActivityScore, s.SuccessScore,
		s.AgeScore, s.DiversityScore,
		s.TotalRentals, s.TotalVolume, s.ReleaseRate, s.UniquePeers,
	}
}

func (p *PostgresSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	q := `INSERT INTO reputation_snapshots (` + snapCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at`
	return p.db.QueryRowContext(ctx, q, snapArgs(snap)...).Scan(&snap.ID, &snap.CreatedAt)
}

// SaveBatch inserts all snapshots in a single multi-row statement.
func (p *PostgresSnapshotStore) SaveBatch(ctx context.Context, snaps []*Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const cols = 12
	values := make([]string, 0, len(snaps))
	args := make([]interface{}, 0, len(snaps)*cols)
	for i, s := range snaps {
		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = "$" + strconv.Itoa(base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ",")+")")
		args = append(args, snapArgs(s)...)
	}

	q := `INSERT INTO reputation_snapshots (` + snapCols + `) VALUES ` + strings.Join(values, ",")
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert snapshot batch: %w", err)
	}
	return nil
}

func (p *PostgresSnapshotStore) Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, ` + snapCols + `, created_at FROM reputation_snapshots WHERE address = $1`)

	args := []interface{}{strings.ToLower(q.Address)}
	if !q.From.IsZero() {
		args = append(args, q.From)
		sb.WriteString(" AND created_at >= $" + strconv.Itoa(len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		sb.WriteString(" AND created_at <= $" + strconv.Itoa(len(args)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sb.WriteString(" ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args)))

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Latest returns the newest snapshot for an address, or nil when none exist.
func (p *PostgresSnapshotStore) Latest(ctx context.Context, address string) (*Snapshot, error) {
	q := `SELECT id, ` + snapCols + `, created_at FROM reputation_snapshots
		WHERE address = $1 ORDER BY created_at DESC LIMIT 1`

	rows, err := p.db.QueryContext(ctx, q, strings.ToLower(address))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSnapshot(rows)
}

func scanSnapshot(rows *sql.Rows) (*Snapshot, error) {
	s := &Snapshot{}
	var tier string
	if err := rows.Scan(&s.ID, &s.Address, &s.Score, &tier,
		&s.VolumeScore, &s.ActivityScore, &s.SuccessScore, &s.AgeScore, &s.DiversityScore,
		&s.TotalRentals, &s.TotalVolume, &s.ReleaseRate, &s.UniquePeers, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Tier = Tier(tier)
	return s, nil
}

var _ SnapshotStore = (*PostgresSnapshotStore)(nil)
