package sqldb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RogueTeam/8ball/orders"
	"github.com/google/uuid"
)

type (
	orderRow struct {
		Id             string `db:"order_id"`
		PaymentAddress string `db:"payment_address"`
		Label          string `db:"label"`
		Currency       string `db:"currency"`
		AmountDue      int64  `db:"amount_due"`
		AmountPaid     int64  `db:"amount_paid"`
		Status         string `db:"status"`
		Description    string `db:"description"`
		CustomerEmail  string `db:"customer_email"`
		Metadata       string `db:"metadata"`
		FailureReason  string `db:"failure_reason"`
		CreatedAt      int64  `db:"created_at"`
		ExpiresAt      int64  `db:"expires_at"`
		UpdatedAt      int64  `db:"updated_at"`
		FinalizedAt    int64  `db:"finalized_at"`
		Version        int64  `db:"version"`
	}
	transactionRow struct {
		OrderId       string `db:"order_id"`
		TxId          string `db:"txid"`
		Position      int    `db:"position"`
		Amount        int64  `db:"amount"`
		Confirmations int64  `db:"confirmations"`
		ObservedAt    int64  `db:"observed_at"`
		UpdatedAt     int64  `db:"updated_at"`
	}
)

const orderColumns = `order_id, payment_address, label, currency, amount_due, amount_paid, status,
	description, customer_email, metadata, failure_reason, created_at, expires_at, updated_at,
	finalized_at, version`

const transactionColumns = `order_id, txid, position, amount, confirmations, observed_at, updated_at`

// Timestamps are stored as unix nanoseconds. Zero means unset
func toNanos(t time.Time) (n int64) {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) (t time.Time) {
	if n == 0 {
		return t
	}
	return time.Unix(0, n)
}

func newOrderRow(order *orders.Order) (row orderRow) {
	return orderRow{
		Id:             order.Id.String(),
		PaymentAddress: order.PaymentAddress,
		Label:          order.Label,
		Currency:       order.Currency,
		AmountDue:      int64(order.AmountDue),
		AmountPaid:     int64(order.AmountPaid),
		Status:         string(order.Status),
		Description:    order.Description,
		CustomerEmail:  order.CustomerEmail,
		Metadata:       string(order.Metadata),
		FailureReason:  order.FailureReason,
		CreatedAt:      toNanos(order.CreatedAt),
		ExpiresAt:      toNanos(order.ExpiresAt),
		UpdatedAt:      toNanos(order.UpdatedAt),
		FinalizedAt:    toNanos(order.FinalizedAt),
		Version:        int64(order.Version),
	}
}

func newTransactionRows(order *orders.Order) (rows []transactionRow) {
	rows = make([]transactionRow, 0, len(order.Transactions))
	for position, tx := range order.Transactions {
		rows = append(rows, transactionRow{
			OrderId:       order.Id.String(),
			TxId:          tx.TxId,
			Position:      position,
			Amount:        int64(tx.Amount),
			Confirmations: int64(tx.Confirmations),
			ObservedAt:    toNanos(tx.ObservedAt),
			UpdatedAt:     toNanos(tx.UpdatedAt),
		})
	}
	return rows
}

func (r *orderRow) toOrder(txs []transactionRow) (order orders.Order, err error) {
	id, err := uuid.Parse(r.Id)
	if err != nil {
		return order, fmt.Errorf("failed to parse order id: %w", err)
	}

	order = orders.Order{
		Id:             id,
		PaymentAddress: r.PaymentAddress,
		Label:          r.Label,
		Currency:       r.Currency,
		AmountDue:      uint64(r.AmountDue),
		AmountPaid:     uint64(r.AmountPaid),
		Status:         orders.Status(r.Status),
		Description:    r.Description,
		CustomerEmail:  r.CustomerEmail,
		FailureReason:  r.FailureReason,
		CreatedAt:      fromNanos(r.CreatedAt),
		ExpiresAt:      fromNanos(r.ExpiresAt),
		UpdatedAt:      fromNanos(r.UpdatedAt),
		FinalizedAt:    fromNanos(r.FinalizedAt),
		Version:        uint64(r.Version),
	}
	if r.Metadata != "" {
		order.Metadata = json.RawMessage(r.Metadata)
	}
	for _, tx := range txs {
		order.Transactions = append(order.Transactions, orders.Transaction{
			TxId:          tx.TxId,
			Amount:        uint64(tx.Amount),
			Confirmations: uint64(tx.Confirmations),
			ObservedAt:    fromNanos(tx.ObservedAt),
			UpdatedAt:     fromNanos(tx.UpdatedAt),
		})
	}
	return order, nil
}
