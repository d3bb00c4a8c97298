package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TransferKind says what a payout is for.
type TransferKind string

const (
	TransferReward    TransferKind = "reward"
	TransferRelease   TransferKind = "milestone_release"
	TransferEmergency TransferKind = "emergency_withdraw"
)

// TransferStatus tracks an outbound payment through dispatch.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferSending TransferStatus = "sending"
	TransferSent    TransferStatus = "sent"
	TransferFailed  TransferStatus = "failed"
)

// Transfer is an outbound value movement recorded in the same commit as the
// bookkeeping that owes it and dispatched afterwards.
type Transfer struct {
	ID        string          `json:"id"`
	Kind      TransferKind    `json:"kind"`
	To        common.Address  `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"` // e.g. "bet:12" or "milestone:m-3"
	Status    TransferStatus  `json:"status"`
	TxRef     string          `json:"tx_ref,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Payer moves value to an address on some settlement rail and returns a
// rail-specific reference such as a transaction hash.
type Payer interface {
	Pay(ctx context.Context, t Transfer) (string, error)
}
