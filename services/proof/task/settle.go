package task

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeSettlementTransfer = "settlement:transfer"

type SettlementPayload struct {
	TransactionID string `json:"transaction_id"`
}

// Settler resolves a pending withdrawal to its terminal state.
type Settler interface {
	Settle(ctx context.Context, transactionID string) error
}

func NewSettlementTask(transactionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SettlementPayload{TransactionID: transactionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSettlementTransfer, payload,
		asynq.Queue("critical"),
		asynq.MaxRetry(5)), nil
}

func HandleSettlementTransfer(settler Settler) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SettlementPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		if err := settler.Settle(ctx, payload.TransactionID); err != nil {
			zap.L().Error("failed to resolve settlement",
				zap.String("transaction_id", payload.TransactionID),
				zap.Error(err),
			)
			return err
		}

		return nil
	}
}
