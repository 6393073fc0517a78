package reputation

import (
	"context"
	"time"
)

// Snapshot is a point-in-time reputation score stored for history.
type Snapshot struct {
	ID             int       `json:"id"`
	Address        string    `json:"address"`
	Score          float64   `json:"score"`
	Tier           Tier      `json:"tier"`
	VolumeScore    float64   `json:"volumeScore"`
	ActivityScore  float64   `json:"activityScore"`
	SuccessScore   float64   `json:"successScore"`
	AgeScore       float64   `json:"ageScore"`
	DiversityScore float64   `json:"diversityScore"`
	TotalRentals   int       `json:"totalRentals"`
	TotalVolume    float64   `json:"totalVolume"`
	ReleaseRate    float64   `json:"releaseRate"`
	UniquePeers    int       `json:"uniquePeers"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SnapshotFromScore creates a Snapshot from a calculated Score.
func SnapshotFromScore(s *Score) *Snapshot {
	var releaseRate float64
	if s.Metrics.TotalRentals > 0 {
		releaseRate = float64(s.Metrics.ReleasedRentals) / float64(s.Metrics.TotalRentals)
	}
	return &Snapshot{
		Address:        s.Address,
		Score:          s.Score,
		Tier:           s.Tier,
		VolumeScore:    s.Components.VolumeScore,
		ActivityScore:  s.Components.ActivityScore,
		SuccessScore:   s.Components.SuccessScore,
		AgeScore:       s.Components.AgeScore,
		DiversityScore: s.Components.DiversityScore,
		TotalRentals:   s.Metrics.TotalRentals,
		TotalVolume:    s.Metrics.TotalVolumeUSD,
		ReleaseRate:    releaseRate,
		UniquePeers:    s.Metrics.UniqueCounterparties,
		CreatedAt:      time.Now(),
	}
}

// HistoryQuery holds query parameters for historical scores.
type HistoryQuery struct {
	Address string
	From    time.Time
	To      time.Time
	Limit   int
}

// SnapshotStore persists reputation snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	SaveBatch(ctx context.Context, snaps []*Snapshot) error
	Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error)
	Latest(ctx context.Context, address string) (*Snapshot, error)
}
