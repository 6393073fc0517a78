// Package escrow implements custody of skill-rental payments between agents.
//
// Flow:
//  1. Provider creates an escrow offering a skill → state "created"
//  2. Renter funds it → renter's funds move into the custody account
//  3. Renter approves completion → funds released to provider
//  4. Provider cancels → funds refunded to renter
//  5. Either party disputes → funds stay locked until an arbiter resolves
//
// Funds in custody are controlled exclusively by the engine's derived
// capability; neither provider nor renter can move them directly.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/skillvault/internal/metrics"
	"github.com/mbd888/skillvault/internal/traces"
	"github.com/mbd888/skillvault/internal/usdc"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrNotFound       = errors.New("escrow not found")
	ErrInvalidState   = errors.New("invalid escrow state for this operation")
	ErrUnauthorized   = errors.New("not authorized for this escrow operation")
	ErrInvalidTerms   = errors.New("invalid escrow terms")
	ErrInvalidReason  = errors.New("invalid dispute reason")
	ErrAlreadyExists  = errors.New("active escrow already exists for this provider")
	ErrTransferFailed = errors.New("ledger transfer failed")
	ErrInvalidAmount  = errors.New("invalid amount")
)

// State represents the lifecycle state of an escrow record.
type State string

const (
	StateCreated  State = "created"  // Offered, not yet funded
	StateFunded   State = "funded"   // Renter deposited, funds in custody
	StateReleased State = "released" // Funds paid out to provider (terminal)
	StateRefunded State = "refunded" // Funds returned to renter (terminal)
	StateDisputed State = "disputed" // Awaiting arbiter resolution
)

// Field length bounds, matching the on-record limits of the custody contract.
const (
	MaxSkillNameLen     = 64
	MaxMetadataURILen   = 256
	MaxDisputeReasonLen = 256
)

// DefaultAsset is the asset escrows settle in unless configured otherwise.
const DefaultAsset = "USDC"

// Terms describe what is being rented. Immutable once the escrow is created.
type Terms struct {
	SkillName       string `json:"skillName"`
	DurationSeconds int64  `json:"durationSeconds"`
	PriceRef        uint64 `json:"priceRef"` // informational, not enforced at funding
	MetadataURI     string `json:"metadataUri,omitempty"`
}

// Escrow is the persistent custody record.
//
// Key, Provider, Asset, CustodyAccount and Terms are fixed at creation.
// Renter and Amount are fixed at funding. A record that reaches a terminal
// state (released, refunded) is retained forever and never mutated again.
type Escrow struct {
	ID             string     `json:"id"`
	Key            string     `json:"key"` // deterministic per (provider, asset)
	Provider       string     `json:"provider"`
	Renter         string     `json:"renter,omitempty"` // unset until funded
	Asset          string     `json:"asset"`
	CustodyAccount string     `json:"custodyAccount"`
	Terms          Terms      `json:"terms"`
	Amount         string     `json:"amount"` // "0" until funded, then set exactly once
	State          State      `json:"state"`
	DisputeReason  string     `json:"disputeReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	FundedAt       *time.Time `json:"fundedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	DisputedAt     *time.Time `json:"disputedAt,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsTerminal reports whether the escrow has reached a final state.
func (e *Escrow) IsTerminal() bool {
	return e.State == StateReleased || e.State == StateRefunded
}

// ExpiresAt returns the moment the rental duration runs out.
func (e *Escrow) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.Terms.DurationSeconds) * time.Second)
}

// TimedOut reports whether the rental duration has elapsed at the given
// instant. Pure function over the record; it never mutates state.
func (e *Escrow) TimedOut(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Store persists escrow records.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	// GetActiveByKey returns the non-terminal record for a derived key, or
	// ErrNotFound when every record under the key is terminal (or none exist).
	GetActiveByKey(ctx context.Context, key string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	ListByAgent(ctx context.Context, addr string, limit int) ([]*Escrow, error)
	// ListFundedBefore returns funded records whose rental duration expired
	// before the given instant. Used by the timeout watcher.
	ListFundedBefore(ctx context.Context, expiry time.Time, limit int) ([]*Escrow, error)
	// ListHoldingFunds returns records whose custody accounts currently
	// hold funds: funded and disputed states.
	ListHoldingFunds(ctx context.Context, limit int) ([]*Escrow, error)
}

// TokenLedger abstracts the token ledger so escrow doesn't import ledger.
//
// proof carries the engine's custody capability for transfers out of the
// custody account; it is nil for first-party transfers, where the caller's
// identity over the from-account has been established upstream.
type TokenLedger interface {
	Transfer(ctx context.Context, from, to, asset, amount, reference string, proof []byte) error
}

// OutcomeRecorder records settled escrows for reputation tracking.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, escrowID, provider, renter, amount, skillName, outcome string) error
}

// EventSink receives escrow lifecycle events for realtime streaming.
type EventSink interface {
	Publish(event string, e *Escrow)
}

// ArbiterSet is the configured set of identities allowed to resolve disputes.
type ArbiterSet struct {
	addrs map[string]struct{}
}

// NewArbiterSet builds an arbiter set from a list of addresses.
func NewArbiterSet(addrs []string) ArbiterSet {
	s := ArbiterSet{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			s.addrs[a] = struct{}{}
		}
	}
	return s
}

// Allowed reports whether addr may resolve disputes.
func (s ArbiterSet) Allowed(addr string) bool {
	_, ok := s.addrs[strings.ToLower(addr)]
	return ok
}

// Empty reports whether no arbiters are configured.
func (s ArbiterSet) Empty() bool { return len(s.addrs) == 0 }

// Outcome selects the payout path of a dispute resolution.
type Outcome string

const (
	OutcomeRelease Outcome = "release" // pay the provider
	OutcomeRefund  Outcome = "refund"  // return funds to the renter
)

// CreateRequest contains the parameters for creating an escrow.
type CreateRequest struct {
	Provider        string `json:"provider" binding:"required"`
	SkillName       string `json:"skillName" binding:"required"`
	DurationSeconds int64  `json:"durationSeconds" binding:"required"`
	PriceRef        uint64 `json:"priceRef"`
	MetadataURI     string `json:"metadataUri"`
}

// FundRequest contains the parameters for funding an escrow.
type FundRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// DisputeRequest contains the parameters for disputing an escrow.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest contains the parameters for resolving a dispute.
type ResolveRequest struct {
	Outcome Outcome `json:"outcome" binding:"required"`
}

// Service implements the escrow custody state machine.
type Service struct {
	store    Store
	ledger   TokenLedger
	cap      *capability
	asset    string
	maxDur   time.Duration // 0 means unlimited
	arbiters ArbiterSet
	recorder OutcomeRecorder
	events   EventSink
	logger   *slog.Logger
	locks    sync.Map // per-escrow ID locks; serializes transitions on one record
}

// NewService creates a new escrow service. custodySecret feeds the derived
// custody capability and must match the ledger's verifier secret.
func NewService(store Store, ledger TokenLedger, custodySecret []byte) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		cap:    newCapability(custodySecret),
		asset:  DefaultAsset,
		logger: slog.Default(),
	}
}

// WithAsset overrides the settlement asset.
func (s *Service) WithAsset(asset string) *Service {
	if asset != "" {
		s.asset = asset
	}
	return s
}

// WithMaxDuration caps the rental duration accepted at creation.
func (s *Service) WithMaxDuration(d time.Duration) *Service {
	s.maxDur = d
	return s
}

// WithArbiters sets the dispute authority.
func (s *Service) WithArbiters(a ArbiterSet) *Service {
	s.arbiters = a
	return s
}

// WithRecorder adds an outcome recorder for reputation integration.
func (s *Service) WithRecorder(r OutcomeRecorder) *Service {
	s.recorder = r
	return s
}

// WithEvents adds an event sink for realtime streaming.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// WithLogger sets a structured logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create allocates a new escrow record for a provider's skill offer.
//
// At most one non-terminal record may exist per (provider, asset) key. A
// stale unfunded record is recreated in place; anything funded or disputed
// fails with ErrAlreadyExists.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		attribute.String("provider", req.Provider),
		attribute.String("skill", req.SkillName),
	)
	defer span.End()

	if err := validateTerms(req); err != nil {
		return nil, err
	}
	if s.maxDur > 0 && time.Duration(req.DurationSeconds)*time.Second > s.maxDur {
		return nil, fmt.Errorf("%w: durationSeconds exceeds maximum %s", ErrInvalidTerms, s.maxDur)
	}

	provider := strings.ToLower(req.Provider)
	key := DeriveKey(provider, s.asset)

	mu := s.escrowLock(key)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	esc := &Escrow{
		ID:             newEscrowID(),
		Key:            key,
		Provider:       provider,
		Asset:          s.asset,
		CustodyAccount: DeriveCustodyAccount(key),
		Terms: Terms{
			SkillName:       req.SkillName,
			DurationSeconds: req.DurationSeconds,
			PriceRef:        req.PriceRef,
			MetadataURI:     req.MetadataURI,
		},
		Amount:    "0",
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := s.store.GetActiveByKey(ctx, key)
	switch {
	case err == nil:
		// Take the record lock too: a concurrent Fund serializes on the
		// record ID, and the state must be re-checked once we hold it.
		rmu := s.escrowLock(existing.ID)
		rmu.Lock()
		defer rmu.Unlock()
		existing, err = s.store.Get(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		if amt, ok := usdc.Parse(existing.Amount); existing.State != StateCreated || !ok || amt.Sign() != 0 {
			return nil, ErrAlreadyExists
		}
		// Stale unfunded offer: recreate in place under the same record ID.
		esc.ID = existing.ID
		if err := s.store.Update(ctx, esc); err != nil {
			return nil, fmt.Errorf("recreate escrow record: %w", err)
		}
	case errors.Is(err, ErrNotFound):
		if err := s.store.Create(ctx, esc); err != nil {
			return nil, fmt.Errorf("create escrow record: %w", err)
		}
	default:
		return nil, err
	}

	metrics.EscrowCreatedTotal.Inc()
	s.publish("escrow_created", esc)
	s.logger.Info("escrow created",
		"escrowId", esc.ID, "provider", esc.Provider, "skill", esc.Terms.SkillName)
	return esc, nil
}

// Fund deposits the renter's payment into custody and moves the record to
// funded. The record mutation persists only if the ledger transfer succeeds.
func (s *Service) Fund(ctx context.Context, id, renterAddr, amount string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Fund",
		attribute.String("escrow.id", id),
		attribute.String("amount", amount),
	)
	defer span.End()

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.State != StateCreated {
		return nil, ErrInvalidState
	}

	renter := strings.ToLower(renterAddr)
	if renter == esc.Provider {
		return nil, ErrUnauthorized
	}
	if amt, ok := usdc.Parse(amount); !ok || amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	// Stage the transition; nothing is persisted until the transfer lands.
	now := time.Now()
	staged := *esc
	staged.Renter = renter
	staged.Amount = amount
	staged.State = StateFunded
	staged.FundedAt = &now
	staged.UpdatedAt = now

	// Renter → custody, authorized by the renter (first-party transfer).
	if err := s.ledger.Transfer(ctx, renter, esc.CustodyAccount, esc.Asset, amount, esc.ID, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := s.store.Update(ctx, &staged); err != nil {
		// Funds are in custody but the record still says created; give them
		// back rather than leaving value stranded against a stale record.
		if compErr := s.ledger.Transfer(ctx, esc.CustodyAccount, renter, esc.Asset, amount, esc.ID, s.cap.proofFor(esc.CustodyAccount)); compErr != nil {
			s.logger.Error("CRITICAL: escrow funded but record update and compensating refund both failed",
				"escrowId", esc.ID, "renter", renter, "updateErr", err, "refundErr", compErr)
		}
		return nil, fmt.Errorf("update escrow record after funding: %w", err)
	}

	metrics.EscrowFundedTotal.Inc()
	s.publish("escrow_funded", &staged)
	s.logger.Info("escrow funded",
		"escrowId", staged.ID, "renter", staged.Renter, "amount", staged.Amount)
	return &staged, nil
}

// Release pays the custody balance out to the provider. Only the renter may
// release; this is the cooperative-completion path.
func (s *Service) Release(ctx context.Context, id, callerAddr string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", attribute.String("escrow.id", id))
	defer span.End()

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.State != StateFunded {
		return nil, ErrInvalidState
	}
	if strings.ToLower(callerAddr) != esc.Renter {
		return nil, ErrUnauthorized
	}

	esc, err = s.settle(ctx, esc, StateReleased, esc.Provider)
	if err != nil {
		return nil, err
	}
	metrics.EscrowReleasedTotal.Inc()
	s.publish("escrow_released", esc)
	return esc, nil
}

// Refund returns the custody balance to the renter. The provider may refund
// at any time while funded; the renter may force a refund only once the
// rental duration has expired.
func (s *Service) Refund(ctx context.Context, id, callerAddr string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Refund", attribute.String("escrow.id", id))
	defer span.End()

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.State != StateFunded {
		return nil, ErrInvalidState
	}
	caller := strings.ToLower(callerAddr)
	switch caller {
	case esc.Provider:
		// Provider agrees to cancel.
	case esc.Renter:
		if !esc.TimedOut(time.Now()) {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrUnauthorized
	}

	esc, err = s.settle(ctx, esc, StateRefunded, esc.Renter)
	if err != nil {
		return nil, err
	}
	metrics.EscrowRefundedTotal.Inc()
	s.publish("escrow_refunded", esc)
	return esc, nil
}

// Dispute freezes a funded escrow pending arbitration. No funds move.
func (s *Service) Dispute(ctx context.Context, id, callerAddr, reason string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Dispute", attribute.String("escrow.id", id))
	defer span.End()

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.State != StateFunded {
		return nil, ErrInvalidState
	}
	caller := strings.ToLower(callerAddr)
	if caller != esc.Renter && caller != esc.Provider {
		return nil, ErrUnauthorized
	}
	reason = strings.TrimSpace(reason)
	if reason == "" || len(reason) > MaxDisputeReasonLen {
		return nil, ErrInvalidReason
	}

	now := time.Now()
	esc.State = StateDisputed
	esc.DisputeReason = reason
	esc.DisputedAt = &now
	esc.UpdatedAt = now

	if err := s.store.Update(ctx, esc); err != nil {
		return nil, err
	}

	metrics.EscrowDisputedTotal.Inc()
	s.publish("escrow_disputed", esc)
	s.logger.Info("escrow disputed", "escrowId", esc.ID, "by", caller, "reason", reason)
	return esc, nil
}

// ResolveDispute settles a disputed escrow to either payout path. Only a
// configured arbiter may resolve; arbiters are external to both parties.
func (s *Service) ResolveDispute(ctx context.Context, id, callerAddr string, outcome Outcome) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ResolveDispute",
		attribute.String("escrow.id", id),
		attribute.String("outcome", string(outcome)),
	)
	defer span.End()

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if esc.State != StateDisputed {
		return nil, ErrInvalidState
	}
	if !s.arbiters.Allowed(callerAddr) {
		return nil, ErrUnauthorized
	}

	var to string
	var final State
	switch outcome {
	case OutcomeRelease:
		to, final = esc.Provider, StateReleased
	case OutcomeRefund:
		to, final = esc.Renter, StateRefunded
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidState, outcome)
	}

	esc, err = s.settle(ctx, esc, final, to)
	if err != nil {
		return nil, err
	}
	metrics.EscrowResolvedTotal.WithLabelValues(string(outcome)).Inc()
	s.publish("escrow_resolved", esc)
	s.logger.Info("dispute resolved",
		"escrowId", esc.ID, "arbiter", strings.ToLower(callerAddr), "outcome", outcome)
	return esc, nil
}

// settle moves the full custody balance to the recipient and persists the
// terminal transition. The caller holds the per-record lock. The terminal
// state is what gets recorded as the rental outcome, so an arbiter ruling
// for the provider counts the same as an uncontested release.
func (s *Service) settle(ctx context.Context, esc *Escrow, final State, recipient string) (*Escrow, error) {
	now := time.Now()
	staged := *esc
	staged.State = final
	staged.CompletedAt = &now
	staged.UpdatedAt = now

	// Custody → recipient, authorized by the engine's derived capability.
	// The full amount moves exactly once; terminal records never settle again.
	if err := s.ledger.Transfer(ctx, esc.CustodyAccount, recipient, esc.Asset, esc.Amount, esc.ID, s.cap.proofFor(esc.CustodyAccount)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := s.store.Update(ctx, &staged); err != nil {
		// Retry once — funds already moved, the terminal state must persist.
		if retryErr := s.store.Update(ctx, &staged); retryErr != nil {
			// CRITICAL: payout happened but the record is stale. There is no
			// inverse transfer the engine may authorize here; flag for manual
			// resolution rather than applying a wrong compensation.
			s.logger.Error("CRITICAL: escrow settled but record update failed",
				"escrowId", esc.ID, "recipient", recipient, "error", retryErr)
			return nil, fmt.Errorf("update escrow record after settlement (requires manual resolution): %w", err)
		}
	}

	if s.recorder != nil {
		_ = s.recorder.RecordOutcome(ctx, staged.ID, staged.Provider, staged.Renter, staged.Amount, staged.Terms.SkillName, string(staged.State))
	}
	if staged.FundedAt != nil {
		metrics.EscrowDuration.Observe(now.Sub(*staged.FundedAt).Seconds())
	}
	return &staged, nil
}

// CheckTimeout reports whether the rental duration of the escrow has
// expired. Read-only; callers decide what to do with the answer.
func (s *Service) CheckTimeout(ctx context.Context, id string) (bool, *Escrow, error) {
	esc, err := s.store.Get(ctx, id)
	if err != nil {
		return false, nil, err
	}
	return esc.TimedOut(time.Now()), esc, nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// ListByAgent returns escrows involving an agent as provider or renter.
func (s *Service) ListByAgent(ctx context.Context, addr string, limit int) ([]*Escrow, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAgent(ctx, strings.ToLower(addr), limit)
}

func (s *Service) publish(event string, e *Escrow) {
	if s.events != nil {
		s.events.Publish(event, e)
	}
}

func validateTerms(req CreateRequest) error {
	if req.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidTerms)
	}
	if req.DurationSeconds <= 0 {
		return fmt.Errorf("%w: durationSeconds must be positive", ErrInvalidTerms)
	}
	if req.SkillName == "" || len(req.SkillName) > MaxSkillNameLen {
		return fmt.Errorf("%w: skillName must be 1-%d characters", ErrInvalidTerms, MaxSkillNameLen)
	}
	if len(req.MetadataURI) > MaxMetadataURILen {
		return fmt.Errorf("%w: metadataUri exceeds %d characters", ErrInvalidTerms, MaxMetadataURILen)
	}
	return nil
}
