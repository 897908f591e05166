package proof

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	// identifierPrefix marks public identifiers; safe to share, reveals
	// nothing about the note.
	identifierPrefix = "ZKP-"
	identifierLen    = 20

	noteBytes = 32
)

type TransactionKind string

const (
	KindDeposit  TransactionKind = "DEPOSIT"
	KindWithdraw TransactionKind = "WITHDRAW"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusConfirmed TransactionStatus = "CONFIRMED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Proof is one issued identifier with its cumulative accumulators. The row
// is created once at issuance; only Deposited and Withdrawn ever change, and
// always under a row lock. Withdrawn never exceeds Deposited at any commit
// point.
type Proof struct {
	ID        string          `gorm:"column:id;primaryKey"`
	OwnerKey  string          `gorm:"column:owner_key;not null;index"`
	NoteHash  string          `gorm:"column:note_hash;not null"`
	Deposited decimal.Decimal `gorm:"column:deposited;type:decimal(32,18);not null"`
	Withdrawn decimal.Decimal `gorm:"column:withdrawn;type:decimal(32,18);not null"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (p *Proof) Balance() decimal.Decimal {
	return p.Deposited.Sub(p.Withdrawn)
}

// ProofTransaction is the append-only event log, one row per deposit or
// withdrawal attempt. Deposits are CONFIRMED at creation; withdrawals start
// PENDING and are resolved exactly once to CONFIRMED or FAILED by the
// settlement task.
type ProofTransaction struct {
	ID            string            `gorm:"column:id;primaryKey"`
	ProofID       string            `gorm:"column:proof_id;not null;index"`
	Kind          TransactionKind   `gorm:"column:kind;not null"`
	Amount        decimal.Decimal   `gorm:"column:amount;type:decimal(32,18);not null"`
	Recipient     string            `gorm:"column:recipient"`
	SettlementRef string            `gorm:"column:settlement_ref"`
	Status        TransactionStatus `gorm:"column:status;not null"`
	Metadata      datatypes.JSON    `gorm:"column:metadata"`
	CreatedAt     time.Time         `gorm:"column:created_at"`
}

// NewSecretNote draws 256 bits of entropy and returns them hex-encoded. The
// note is handed to the caller exactly once and never stored.
func NewSecretNote() (string, error) {
	b := make([]byte, noteBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashNote is the one-way digest stored server-side; possession of a note
// whose digest matches is the sole spending authorization.
func HashNote(note string) string {
	sum := sha256.Sum256([]byte(note))
	return hex.EncodeToString(sum[:])
}

// DeriveIdentifier builds the public identifier from the owner key and the
// note digest. Unguessable without the digest, and does not leak it.
func DeriveIdentifier(ownerKey, noteHash string) string {
	sum := sha256.Sum256([]byte(ownerKey + ":" + noteHash))
	token := strings.ToUpper(hex.EncodeToString(sum[:]))
	return identifierPrefix + token[:identifierLen]
}
