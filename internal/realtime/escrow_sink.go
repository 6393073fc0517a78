package realtime

import (
	"time"

	"github.com/mbd888/skillvault/internal/escrow"
)

// EscrowSink adapts the hub to the escrow service's event interface.
type EscrowSink struct {
	hub *Hub
}

// NewEscrowSink wraps a hub for escrow event publishing.
func NewEscrowSink(hub *Hub) *EscrowSink {
	return &EscrowSink{hub: hub}
}

// Publish broadcasts an escrow lifecycle event to subscribed clients.
func (s *EscrowSink) Publish(event string, e *escrow.Escrow) {
	s.hub.Broadcast(&Event{
		Type:      event,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"escrowId":  e.ID,
			"provider":  e.Provider,
			"renter":    e.Renter,
			"skillName": e.Terms.SkillName,
			"amount":    e.Amount,
			"state":     string(e.State),
		},
	})
}

var _ escrow.EventSink = (*EscrowSink)(nil)
