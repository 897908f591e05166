package proof

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"veilpool/pkg/db/option"
	"veilpool/pkg/errutil"
	"veilpool/pkg/events"
	"veilpool/pkg/repository"
	"veilpool/pkg/settlement"
	"veilpool/pkg/task"
	settletask "veilpool/services/proof/task"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	historyPageSize  = 200
	generateAttempts = 3

	defaultSettleTimeout = 45 * time.Second
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	proofs       repository.Repository[Proof]
	transactions repository.Repository[ProofTransaction]

	settlement settlement.Client
	enqueuer   task.Enqueuer
	publisher  events.Publisher

	settleTimeout time.Duration
	newNote       func() (string, error)
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Settlement settlement.Client `optional:"true"`
	Enqueuer   task.Enqueuer     `optional:"true"`
	Publisher  events.Publisher  `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		proofs:       repository.ProvideStore[Proof](p.DB),
		transactions: repository.ProvideStore[ProofTransaction](p.DB),

		settlement: p.Settlement,
		enqueuer:   p.Enqueuer,
		publisher:  p.Publisher,

		settleTimeout: defaultSettleTimeout,
		newNote:       NewSecretNote,
	}
}

type GenerateRequest struct {
	OwnerKey string `json:"ownerKey"`
}

type GenerateResponse struct {
	Identifier string `json:"identifier"`
	SecretNote string `json:"secretNote"`
}

// Generate issues a new identifier bound to a fresh secret note. The note is
// returned to the caller exactly once; only its digest is persisted.
func (s *Service) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if strings.TrimSpace(req.OwnerKey) == "" {
		return nil, errutil.ValidationFailed("ownerKey is required")
	}

	for attempt := 0; attempt < generateAttempts; attempt++ {
		note, err := s.newNote()
		if err != nil {
			return nil, errutil.Internal("failed to generate secret note", errutil.WithErr(err))
		}

		digest := HashNote(note)
		identifier := DeriveIdentifier(req.OwnerKey, digest)

		exist, err := s.proofs.FindOne(ctx, &Proof{ID: identifier})
		if err != nil {
			return nil, err
		}
		if exist != nil {
			zap.L().Warn("identifier collision, regenerating", zap.String("identifier", identifier), zap.Int("attempt", attempt+1))
			continue
		}

		now := time.Now()
		if err := s.proofs.Create(ctx, &Proof{
			ID:        identifier,
			OwnerKey:  req.OwnerKey,
			NoteHash:  digest,
			Deposited: decimal.Zero,
			Withdrawn: decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return nil, err
		}

		return &GenerateResponse{Identifier: identifier, SecretNote: note}, nil
	}

	return nil, errutil.Conflict("identifier collision, retry the request")
}

type ProofSummary struct {
	Identifier string          `json:"identifier"`
	Total      decimal.Decimal `json:"total"`
	Spent      decimal.Decimal `json:"spent"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (s *Service) List(ctx context.Context, wallet string) ([]*ProofSummary, error) {
	if wallet == "" {
		return nil, errutil.ValidationFailed("wallet is required")
	}

	entries, err := s.proofs.Find(ctx, &Proof{OwnerKey: wallet}, option.WithSortBy(
		option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow: map[string]bool{
				"created_at": true,
			},
		},
	))
	if err != nil {
		return nil, err
	}

	summaries := make([]*ProofSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, &ProofSummary{
			Identifier: entry.ID,
			Total:      entry.Deposited,
			Spent:      entry.Withdrawn,
			Balance:    entry.Balance(),
			CreatedAt:  entry.CreatedAt,
		})
	}

	return summaries, nil
}

type DepositRequest struct {
	OwnerKey      string          `json:"ownerKey"`
	Identifier    string          `json:"identifier"`
	Amount        decimal.Decimal `json:"amount"`
	SettlementRef string          `json:"settlementRef,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

type DepositResponse struct {
	OK         bool            `json:"ok"`
	Identifier string          `json:"identifier"`
	Balance    decimal.Decimal `json:"balance"`
	Total      decimal.Decimal `json:"total"`
	Spent      decimal.Decimal `json:"spent"`
}

// Deposit credits an identifier based on the caller's assertion that funds
// were received externally. No independent verification happens here; the
// settlementRef is recorded as-is. Verification is a pluggable extension
// point, not an implemented check.
func (s *Service) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("identifier", req.Identifier),
	}

	switch {
	case req.OwnerKey == "":
		return nil, errutil.ValidationFailed("ownerKey is required")
	case req.Identifier == "":
		return nil, errutil.ValidationFailed("identifier is required")
	case !req.Amount.IsPositive():
		return nil, errutil.ValidationFailed("amount must be a positive number")
	}

	var (
		updated *Proof
		record  *ProofTransaction
	)
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		proofTx := s.proofs.WithTrx(tx)
		entry, err := proofTx.FindOne(ctx, &Proof{ID: req.Identifier}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("unknown identifier")
		}
		if entry.OwnerKey != req.OwnerKey {
			return errutil.BadRequest("identifier does not belong to wallet")
		}

		entry.Deposited = entry.Deposited.Add(req.Amount)
		if err := proofTx.Update(ctx, entry.ID, map[string]any{
			"deposited":  entry.Deposited,
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}

		record = &ProofTransaction{
			ID:            s.node.Generate().String(),
			ProofID:       entry.ID,
			Kind:          KindDeposit,
			Amount:        req.Amount,
			SettlementRef: req.SettlementRef,
			Status:        StatusConfirmed,
			CreatedAt:     time.Now(),
		}
		if req.Metadata != nil {
			metaBytes, _ := json.Marshal(req.Metadata)
			record.Metadata = datatypes.JSON(metaBytes)
		}
		if err := s.transactions.WithTrx(tx).Create(ctx, record); err != nil {
			return err
		}

		updated = entry
		return nil
	}); err != nil {
		zap.L().With(opts...).Error("failed to record deposit", zap.Error(err))
		return nil, err
	}

	s.publish(ctx, events.TransactionEvent{
		ProofID:       updated.ID,
		TransactionID: record.ID,
		Kind:          string(KindDeposit),
		Status:        string(StatusConfirmed),
		Amount:        record.Amount.String(),
		SettlementRef: record.SettlementRef,
		OccurredAt:    record.CreatedAt,
	})

	return &DepositResponse{
		OK:         true,
		Identifier: updated.ID,
		Balance:    updated.Balance(),
		Total:      updated.Deposited,
		Spent:      updated.Withdrawn,
	}, nil
}

type WithdrawRequest struct {
	Identifier string          `json:"identifier"`
	SecretNote string          `json:"secretNote"`
	Amount     decimal.Decimal `json:"amount"`
	Recipient  string          `json:"recipient"`
}

type WithdrawResponse struct {
	Status        TransactionStatus `json:"status"`
	TransactionID string            `json:"transactionId"`
}

// Withdraw reserves funds and schedules the external payout. The reservation
// (withdrawn += amount) happens under a row lock together with the PENDING
// transaction insert, so two concurrent withdrawals against the same
// identifier can never both pass the balance check. The caller gets PENDING
// back immediately; the outcome lands in history once settlement resolves.
func (s *Service) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("identifier", req.Identifier),
	}

	switch {
	case req.Identifier == "":
		return nil, errutil.ValidationFailed("identifier is required")
	case req.SecretNote == "":
		return nil, errutil.ValidationFailed("secretNote is required")
	case req.Recipient == "":
		return nil, errutil.ValidationFailed("recipient is required")
	case !req.Amount.IsPositive():
		return nil, errutil.ValidationFailed("amount must be a positive number")
	}

	if s.settlement == nil {
		return nil, errutil.Internal("settlement client not configured")
	}

	var record *ProofTransaction
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		proofTx := s.proofs.WithTrx(tx)
		entry, err := proofTx.FindOne(ctx, &Proof{ID: req.Identifier}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("unknown identifier")
		}

		digest := HashNote(req.SecretNote)
		if subtle.ConstantTimeCompare([]byte(digest), []byte(entry.NoteHash)) != 1 {
			return errutil.Forbidden("invalid secret note")
		}

		if req.Amount.GreaterThan(entry.Balance()) {
			return errutil.BadRequest("insufficient balance")
		}

		// Reservation: funds are marked spent before the payout runs, so a
		// concurrent withdrawal sees the reduced balance.
		entry.Withdrawn = entry.Withdrawn.Add(req.Amount)
		if err := proofTx.Update(ctx, entry.ID, map[string]any{
			"withdrawn":  entry.Withdrawn,
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}

		record = &ProofTransaction{
			ID:        s.node.Generate().String(),
			ProofID:   entry.ID,
			Kind:      KindWithdraw,
			Amount:    req.Amount,
			Recipient: req.Recipient,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		}
		return s.transactions.WithTrx(tx).Create(ctx, record)
	}); err != nil {
		zap.L().With(opts...).Warn("withdrawal rejected", zap.Error(err))
		return nil, err
	}

	s.enqueueSettlement(record.ID)

	return &WithdrawResponse{
		Status:        StatusPending,
		TransactionID: record.ID,
	}, nil
}

func (s *Service) enqueueSettlement(transactionID string) {
	if s.enqueuer == nil {
		zap.L().Warn("no task queue configured, transaction stays pending", zap.String("transaction_id", transactionID))
		return
	}

	t, err := settletask.NewSettlementTask(transactionID)
	if err == nil {
		_, err = s.enqueuer.Enqueue(t)
	}
	if err != nil {
		// The reservation stands; the transaction stays PENDING until a
		// reconciliation sweep or manual resolution.
		zap.L().Error("failed to enqueue settlement task", zap.String("transaction_id", transactionID), zap.Error(err))
	}
}

// Settle resolves a PENDING withdrawal: it invokes the external transfer and
// commits the terminal state. On success only the transaction row changes;
// the reservation stands. On failure the reservation is compensated in the
// same atomic unit as the FAILED status write. Already-resolved transactions
// are a no-op.
//
// The task queue delivers at least once, so the PENDING status is re-checked
// under a row lock before either terminal write. A duplicate delivery racing
// past the initial read finds the row already resolved and backs off without
// touching the accumulators.
func (s *Service) Settle(ctx context.Context, transactionID string) error {
	record, err := s.transactions.FindOne(ctx, &ProofTransaction{ID: transactionID})
	if err != nil {
		return err
	}
	if record == nil {
		return errutil.NotFound("unknown transaction")
	}
	if record.Status != StatusPending {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.settleTimeout)
	defer cancel()

	ref, err := s.settlement.Transfer(sctx, record.Recipient, record.Amount)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// The transfer may have landed; without out-of-band confirmation
			// it is treated as failed, but flagged for operators.
			zap.L().Warn("settlement timed out, outcome ambiguous, compensating",
				zap.String("transaction_id", record.ID),
				zap.Error(err),
			)
		} else {
			zap.L().Error("settlement transfer failed",
				zap.String("transaction_id", record.ID),
				zap.Error(err),
			)
		}
		return s.compensate(ctx, record)
	}

	confirmed := false
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		txRepo := s.transactions.WithTrx(tx)
		current, err := txRepo.FindOne(ctx, &ProofTransaction{ID: record.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if current == nil || current.Status != StatusPending {
			return nil
		}

		confirmed = true
		return txRepo.Update(ctx, record.ID, map[string]any{
			"status":         StatusConfirmed,
			"settlement_ref": ref,
		})
	}); err != nil {
		return err
	}

	if !confirmed {
		zap.L().Warn("transaction already resolved, skipping confirmation",
			zap.String("transaction_id", record.ID),
			zap.String("settlement_ref", ref),
		)
		return nil
	}

	zap.L().Info("withdrawal confirmed",
		zap.String("transaction_id", record.ID),
		zap.String("settlement_ref", ref),
	)

	s.publish(ctx, events.TransactionEvent{
		ProofID:       record.ProofID,
		TransactionID: record.ID,
		Kind:          string(KindWithdraw),
		Status:        string(StatusConfirmed),
		Amount:        record.Amount.String(),
		Recipient:     record.Recipient,
		SettlementRef: ref,
		OccurredAt:    time.Now(),
	})

	return nil
}

func (s *Service) compensate(ctx context.Context, record *ProofTransaction) error {
	compensated := false
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		// Lock the transaction row first: only the delivery that finds it
		// still PENDING may reverse the reservation.
		txRepo := s.transactions.WithTrx(tx)
		current, err := txRepo.FindOne(ctx, &ProofTransaction{ID: record.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if current == nil || current.Status != StatusPending {
			return nil
		}

		proofTx := s.proofs.WithTrx(tx)
		entry, err := proofTx.FindOne(ctx, &Proof{ID: record.ProofID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("proof missing for pending transaction")
		}

		// Exact reversal of the reservation.
		if err := proofTx.Update(ctx, entry.ID, map[string]any{
			"withdrawn":  entry.Withdrawn.Sub(record.Amount),
			"updated_at": time.Now(),
		}); err != nil {
			return err
		}

		compensated = true
		return txRepo.Update(ctx, record.ID, map[string]any{
			"status": StatusFailed,
		})
	}); err != nil {
		return err
	}

	if !compensated {
		zap.L().Warn("transaction already resolved, skipping compensation",
			zap.String("transaction_id", record.ID),
		)
		return nil
	}

	s.publish(ctx, events.TransactionEvent{
		ProofID:       record.ProofID,
		TransactionID: record.ID,
		Kind:          string(KindWithdraw),
		Status:        string(StatusFailed),
		Amount:        record.Amount.String(),
		Recipient:     record.Recipient,
		OccurredAt:    time.Now(),
	})

	return nil
}

type HistoryItem struct {
	Identifier    string            `json:"identifier"`
	Kind          TransactionKind   `json:"kind"`
	Amount        decimal.Decimal   `json:"amount"`
	Recipient     string            `json:"recipient,omitempty"`
	SettlementRef string            `json:"settlementRef,omitempty"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// History lists transactions across all of the wallet's identifiers,
// newest-first, capped at one page.
func (s *Service) History(ctx context.Context, wallet string) ([]*HistoryItem, error) {
	if wallet == "" {
		return nil, errutil.ValidationFailed("wallet is required")
	}

	entries, err := s.proofs.Find(ctx, &Proof{OwnerKey: wallet})
	if err != nil {
		return nil, err
	}

	items := make([]*HistoryItem, 0)
	if len(entries) == 0 {
		return items, nil
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}

	records, err := s.transactions.Find(ctx, &ProofTransaction{},
		option.ApplyOperator(option.Condition{
			Field:    "proof_id",
			Operator: option.IN,
			Value:    ids,
		}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "desc",
			Allow: map[string]bool{
				"id": true,
			},
		}),
		option.WithLimit(historyPageSize),
	)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		items = append(items, &HistoryItem{
			Identifier:    record.ProofID,
			Kind:          record.Kind,
			Amount:        record.Amount,
			Recipient:     record.Recipient,
			SettlementRef: record.SettlementRef,
			Status:        record.Status,
			CreatedAt:     record.CreatedAt,
		})
	}

	return items, nil
}

func (s *Service) publish(ctx context.Context, event events.TransactionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		zap.L().Error("failed to publish transaction event",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	}
}
