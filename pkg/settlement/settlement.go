package settlement

import (
	"context"
	"fmt"
	"time"

	"veilpool/pkg/config"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client transfers value out of the custodial pool account on the external
// settlement network. Implementations return the network's transaction
// reference on success.
type Client interface {
	// Transfer pays amount to recipient from the pool. The returned string
	// is the settlement reference recorded against the ledger transaction.
	Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (string, error)

	// PoolAddress is the public identity of the custodial pool.
	PoolAddress() string
}

// Error is a settlement-network failure. It is resolved internally through
// compensation and never surfaced to the original caller.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settlement: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("settlement: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PoolConfig is the fixed pool identity loaded once at process start. The
// signing secret comes from config (or Vault), never from an ambient global.
type PoolConfig struct {
	Endpoint    string
	PoolAddress string
	SecretKey   string
	Timeout     time.Duration
}

var Module = fx.Module("settlement",
	fx.Provide(ProvideClient),
)

// ProvideClient returns the RPC-backed client, or nil when the pool identity
// is not configured. Callers treat a nil client as "settlement not
// configured" and refuse withdrawals.
func ProvideClient(cfg *config.Config) Client {
	s := cfg.Settlement
	if s.Endpoint == "" || s.PoolAddress == "" || s.SecretKey == "" {
		zap.L().Warn("[Settlement] pool identity not configured, withdrawals disabled")
		return nil
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return NewRPCClient(PoolConfig{
		Endpoint:    s.Endpoint,
		PoolAddress: s.PoolAddress,
		SecretKey:   s.SecretKey,
		Timeout:     timeout,
	})
}
