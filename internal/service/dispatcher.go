package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
)

// Dispatcher sends committed transfers through a payout rail. Transfers are
// staged by the services in the same commit as the bookkeeping that owes
// them; the Dispatcher pays them afterwards, outside the ledger lock.
type Dispatcher struct {
	ledger    *ledger.Ledger
	payer     domain.Payer
	authority common.Address
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher paying through payer.
func NewDispatcher(l *ledger.Ledger, payer domain.Payer, authority common.Address, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:    l,
		payer:     payer,
		authority: authority,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// stageTransfer records a pending transfer inside tx.
func stageTransfer(tx *ledger.Tx, kind domain.TransferKind, to common.Address, amount decimal.Decimal, ref string) domain.Transfer {
	t := domain.Transfer{
		ID:        uuid.NewString(),
		Kind:      kind,
		To:        to,
		Amount:    amount,
		Reference: ref,
		Status:    domain.TransferPending,
	}
	tx.PutTransfer(t)
	t, _ = tx.Transfer(t.ID)
	return t
}

// Dispatch pays the transfer with id. The transfer is marked sending before
// the rail is called so a concurrent dispatch of the same id is rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) (domain.Transfer, error) {
	var t domain.Transfer
	_, err := d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		cur, ok := tx.Transfer(id)
		if !ok {
			return fmt.Errorf("transfer %s: %w", id, domain.ErrNotFound)
		}
		switch cur.Status {
		case domain.TransferSent:
			return fmt.Errorf("transfer %s: %w", id, domain.ErrTransferSettled)
		case domain.TransferSending:
			return fmt.Errorf("transfer %s: %w", id, domain.ErrTransferInFlight)
		}
		cur.Status = domain.TransferSending
		cur.Attempts++
		tx.PutTransfer(cur)
		t = cur
		return nil
	})
	if err != nil {
		return domain.Transfer{}, err
	}

	ref, payErr := d.payer.Pay(ctx, t)

	_, err = d.ledger.Update(ctx, func(tx *ledger.Tx) error {
		cur, _ := tx.Transfer(id)
		data := map[string]any{
			"transfer_id": cur.ID,
			"kind":        string(cur.Kind),
			"to":          cur.To.Hex(),
			"amount":      cur.Amount.String(),
			"reference":   cur.Reference,
		}
		if payErr != nil {
			cur.Status = domain.TransferFailed
			cur.Error = payErr.Error()
			data["error"] = cur.Error
			tx.Emit(domain.EventTransferFailed, data)
		} else {
			cur.Status = domain.TransferSent
			cur.TxRef = ref
			cur.Error = ""
			data["tx_ref"] = ref
			tx.Emit(domain.EventTransferSent, data)
		}
		tx.PutTransfer(cur)
		t = cur
		return nil
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "transfer outcome not recorded",
			slog.String("transfer_id", id),
			slog.Bool("paid", payErr == nil),
			slog.String("tx_ref", ref),
			slog.String("error", err.Error()),
		)
		return t, fmt.Errorf("dispatcher: record transfer %s: %w", id, err)
	}

	if payErr != nil {
		d.logger.WarnContext(ctx, "transfer failed",
			slog.String("transfer_id", id),
			slog.String("to", t.To.Hex()),
			slog.String("amount", t.Amount.String()),
			slog.String("error", payErr.Error()),
		)
		return t, fmt.Errorf("dispatcher: transfer %s: %w: %v", id, domain.ErrTransferFailed, payErr)
	}
	d.logger.InfoContext(ctx, "transfer sent",
		slog.String("transfer_id", id),
		slog.String("kind", string(t.Kind)),
		slog.String("to", t.To.Hex()),
		slog.String("amount", t.Amount.String()),
		slog.String("tx_ref", ref),
	)
	return t, nil
}

// Redispatch re-sends a failed or stranded transfer. Authority only.
func (d *Dispatcher) Redispatch(ctx context.Context, caller common.Address, id string) (domain.Transfer, error) {
	if err := requireAuthority(caller, d.authority); err != nil {
		return domain.Transfer{}, err
	}
	return d.Dispatch(ctx, id)
}

// DispatchPending pays every transfer still pending, e.g. after a restart
// between commit and dispatch. Failed transfers are left for Redispatch.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	pending, err := d.ListTransfers(ctx, domain.TransferPending)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, t := range pending {
		if _, err := d.Dispatch(ctx, t.ID); err != nil {
			d.logger.WarnContext(ctx, "pending transfer not sent",
				slog.String("transfer_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

// GetTransfer returns the transfer with id.
func (d *Dispatcher) GetTransfer(_ context.Context, id string) (domain.Transfer, error) {
	var t domain.Transfer
	err := d.ledger.View(func(tx *ledger.Tx) error {
		var ok bool
		if t, ok = tx.Transfer(id); !ok {
			return fmt.Errorf("transfer %s: %w", id, domain.ErrNotFound)
		}
		return nil
	})
	return t, err
}

// ListTransfers returns transfers in status, or all when status is empty.
func (d *Dispatcher) ListTransfers(_ context.Context, status domain.TransferStatus) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := d.ledger.View(func(tx *ledger.Tx) error {
		out = tx.Transfers(status)
		return nil
	})
	return out, err
}
