// Package health aggregates per-subsystem health checks for the health
// endpoint.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of one subsystem check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker inspects a single subsystem.
type Checker func(ctx context.Context) Status

type entry struct {
	name string
	fn   Checker
}

// Registry runs registered checkers on demand, in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// NewRegistry creates an empty registry. A registry with no checkers
// reports healthy.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under a name. Names need not be unique; each
// registration produces its own status line.
func (r *Registry) Register(name string, fn Checker) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, fn: fn})
	r.mu.Unlock()
}

// CheckAll runs every checker and reports the aggregate plus the
// individual results. A panicking checker counts as unhealthy rather
// than taking the endpoint down.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	entries := append([]entry(nil), r.entries...)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		st := runCheck(ctx, e)
		if st.Name == "" {
			st.Name = e.name
		}
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}

func runCheck(ctx context.Context, e entry) (st Status) {
	defer func() {
		if r := recover(); r != nil {
			st = Status{Name: e.name, Healthy: false, Detail: fmt.Sprintf("checker panic: %v", r)}
		}
	}()
	return e.fn(ctx)
}

// DBChecker pings the database with a short timeout.
func DBChecker(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}
