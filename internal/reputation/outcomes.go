package reputation

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/skillvault/internal/idgen"
)

// Outcome is a settled rental recorded for reputation purposes.
type Outcome struct {
	ID        string    `json:"id"`
	EscrowID  string    `json:"escrowId"`
	Provider  string    `json:"provider"`
	Renter    string    `json:"renter"`
	Amount    string    `json:"amount"`
	SkillName string    `json:"skillName"`
	Result    string    `json:"result"` // terminal state: "released" or "refunded", arbiter-resolved or not
	CreatedAt time.Time `json:"createdAt"`
}

// OutcomeStore persists settled rental outcomes.
type OutcomeStore interface {
	Record(ctx context.Context, o *Outcome) error
	ListByAgent(ctx context.Context, addr string, limit int) ([]*Outcome, error)
	ListAgents(ctx context.Context) ([]string, error)
}

// Service records outcomes from the escrow engine and exposes metrics
// computed from them. It satisfies the escrow service's recorder interface.
type Service struct {
	store OutcomeStore
}

// NewService creates a reputation service over an outcome store.
func NewService(store OutcomeStore) *Service {
	return &Service{store: store}
}

// RecordOutcome persists a settled escrow for reputation tracking.
func (s *Service) RecordOutcome(ctx context.Context, escrowID, provider, renter, amount, skillName, outcome string) error {
	return s.store.Record(ctx, &Outcome{
		ID:        idgen.WithPrefix("out_"),
		EscrowID:  escrowID,
		Provider:  strings.ToLower(provider),
		Renter:    strings.ToLower(renter),
		Amount:    amount,
		SkillName: skillName,
		Result:    outcome,
		CreatedAt: time.Now(),
	})
}

// GetAgentMetrics computes reputation inputs for a single agent from its
// recorded outcomes. An agent with no outcomes gets zero metrics, not an
// error.
func (s *Service) GetAgentMetrics(ctx context.Context, address string) (*Metrics, error) {
	address = strings.ToLower(address)
	outcomes, err := s.store.ListByAgent(ctx, address, 10000)
	if err != nil {
		return nil, err
	}
	return metricsFromOutcomes(address, outcomes), nil
}

// GetAllAgentMetrics computes metrics for every agent with recorded outcomes.
func (s *Service) GetAllAgentMetrics(ctx context.Context) (map[string]*Metrics, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]*Metrics)
	for _, addr := range agents {
		outcomes, err := s.store.ListByAgent(ctx, addr, 10000)
		if err != nil {
			continue // Skip agents with errors
		}
		result[addr] = metricsFromOutcomes(addr, outcomes)
	}
	return result, nil
}

func metricsFromOutcomes(address string, outcomes []*Outcome) *Metrics {
	m := &Metrics{}
	counterparties := make(map[string]bool)

	for _, o := range outcomes {
		m.TotalRentals++
		m.TotalVolumeUSD += parseAmount(o.Amount)

		// A released rental is a success for the provider; a refund on
		// the provider's side counts against them. From the renter's
		// side every settled rental counts as completed.
		if o.Result == "released" || o.Renter == address {
			m.ReleasedRentals++
		} else {
			m.RefundedRentals++
		}

		if o.Provider == address {
			counterparties[o.Renter] = true
		} else {
			counterparties[o.Provider] = true
		}

		if m.FirstSeen.IsZero() || o.CreatedAt.Before(m.FirstSeen) {
			m.FirstSeen = o.CreatedAt
		}
		if o.CreatedAt.After(m.LastActive) {
			m.LastActive = o.CreatedAt
		}
	}

	m.UniqueCounterparties = len(counterparties)
	if !m.FirstSeen.IsZero() {
		m.DaysOnNetwork = int(time.Since(m.FirstSeen).Hours() / 24)
		if m.DaysOnNetwork < 1 {
			m.DaysOnNetwork = 1
		}
	}
	return m
}

func parseAmount(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// MetricsProvider fetches metrics for reputation calculation
type MetricsProvider interface {
	GetAgentMetrics(ctx context.Context, address string) (*Metrics, error)
	GetAllAgentMetrics(ctx context.Context) (map[string]*Metrics, error)
}

var _ MetricsProvider = (*Service)(nil)

// MemoryOutcomeStore is an in-memory implementation of OutcomeStore
type MemoryOutcomeStore struct {
	mu       sync.RWMutex
	outcomes []*Outcome
}

// NewMemoryOutcomeStore creates a new in-memory outcome store
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{}
}

func (s *MemoryOutcomeStore) Record(ctx context.Context, o *Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.outcomes = append(s.outcomes, &cp)
	return nil
}

func (s *MemoryOutcomeStore) ListByAgent(ctx context.Context, addr string, limit int) ([]*Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addr = strings.ToLower(addr)
	var result []*Outcome
	for _, o := range s.outcomes {
		if o.Provider == addr || o.Renter == addr {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryOutcomeStore) ListAgents(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var agents []string
	for _, o := range s.outcomes {
		if !seen[o.Provider] {
			seen[o.Provider] = true
			agents = append(agents, o.Provider)
		}
		if !seen[o.Renter] {
			seen[o.Renter] = true
			agents = append(agents, o.Renter)
		}
	}
	return agents, nil
}

var _ OutcomeStore = (*MemoryOutcomeStore)(nil)
