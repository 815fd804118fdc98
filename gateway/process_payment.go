package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
)

type Outcome string

const (
	// No open order owns the address. Kept in the logs for manual reconciliation
	OutcomeUnmatched Outcome = "unmatched"
	// Already recorded with the same or higher confirmations and amount
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRecorded  Outcome = "recorded"
)

// PaymentEvent is an incoming payment as reported by the daemon
type PaymentEvent struct {
	Address       string
	TxId          string
	Amount        uint64
	Confirmations uint64
	Timestamp     time.Time
}

func (e *PaymentEvent) Validate() (err error) {
	if e.Address == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidRequest)
	}
	if e.TxId == "" {
		return fmt.Errorf("%w: missing txid", ErrInvalidRequest)
	}
	if e.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidRequest)
	}
	if e.Amount > decimal.MaxAtomic {
		return fmt.Errorf("%w: amount too large", ErrInvalidRequest)
	}
	return nil
}

type ApplyResult struct {
	Outcome Outcome
	// Order after the event. Zero when unmatched by address
	Order orders.Order
	From  orders.Status
	To    orders.Status
}

// Apply matches event to the open order owning its address and moves the order
// through the state machine. Safe to call repeatedly with the same event
func (c *Controller) Apply(ctx context.Context, event PaymentEvent) (result ApplyResult, err error) {
	err = event.Validate()
	if err != nil {
		return result, err
	}

	logger := c.logger.With().
		Str("address", event.Address).
		Str("txid", event.TxId).
		Uint64("amount", event.Amount).
		Uint64("confirmations", event.Confirmations).
		Time("timestamp", event.Timestamp).
		Logger()

	owner, err := c.store.ByAddress(ctx, event.Address)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return result, fmt.Errorf("failed to match address: %w", err)
		}
		logger.Warn().Msg("unmatched payment event")
		c.metrics.PaymentEvents.WithLabelValues(string(OutcomeUnmatched)).Inc()
		return ApplyResult{Outcome: OutcomeUnmatched}, nil
	}

	order, _, err := c.mutate(ctx, owner.Id, func(order *orders.Order) (changed bool, err error) {
		result = ApplyResult{Outcome: OutcomeDuplicate, From: order.Status, To: order.Status}

		// The order finalized between the lookup and the lock
		if order.Status.IsTerminal() || order.PaymentAddress != event.Address {
			result.Outcome = OutcomeUnmatched
			return false, nil
		}

		now := c.now()
		tx := orders.Transaction{
			TxId:          event.TxId,
			Amount:        event.Amount,
			Confirmations: event.Confirmations,
			ObservedAt:    event.Timestamp,
		}
		if !order.Observe(tx, now) {
			return false, nil
		}
		order.Recompute(c.minConfirmations)
		order.UpdatedAt = now

		result.From, result.To, err = order.Advance(now)
		if err != nil {
			return false, fmt.Errorf("failed to advance order: %w", err)
		}
		result.Outcome = OutcomeRecorded
		return true, nil
	})
	if err != nil {
		return result, err
	}
	result.Order = order

	c.metrics.PaymentEvents.WithLabelValues(string(result.Outcome)).Inc()
	logger = logger.With().Str("order_id", order.Id.String()).Str("status", string(order.Status)).Logger()
	switch result.Outcome {
	case OutcomeUnmatched:
		logger.Warn().Msg("payment to finalized order")
	case OutcomeDuplicate:
		logger.Debug().Msg("duplicate payment event")
	default:
		logger.Info().Uint64("amount_paid", order.AmountPaid).Msg("payment recorded")
		c.transitioned(&order, result.From, result.To)
		if overpaid := order.Overpaid(); overpaid > 0 {
			logger.Warn().Uint64("overpaid", overpaid).Msg("order overpaid")
		}
	}
	return result, nil
}
