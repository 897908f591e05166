package events

import (
	"context"
	"time"
)

// TransactionEvent is published when a ledger transaction reaches a terminal
// state.
type TransactionEvent struct {
	ProofID       string    `json:"proof_id"`
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Recipient     string    `json:"recipient,omitempty"`
	SettlementRef string    `json:"settlement_ref,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event TransactionEvent) error
}
