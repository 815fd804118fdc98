package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/gateway"
	"github.com/RogueTeam/8ball/orders"
	"github.com/google/uuid"
)

type Receive struct {
	// Amount in coin units. "1.5" or 1.5
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Description   string          `json:"description,omitempty"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

func ReceiveToGateway(src *Receive) (out gateway.Receive, err error) {
	amount, err := src.Amount.Atomic()
	if err != nil {
		return out, fmt.Errorf("%w: amount: %w", gateway.ErrInvalidRequest, err)
	}
	out = gateway.Receive{
		Amount:        amount,
		Currency:      src.Currency,
		Description:   src.Description,
		CustomerEmail: src.CustomerEmail,
		Metadata:      src.Metadata,
	}
	return out, nil
}

type (
	Transaction struct {
		TxId          string          `json:"txid"`
		Amount        decimal.Decimal `json:"amount"`
		Confirmations uint64          `json:"confirmations"`
		ObservedAt    time.Time       `json:"observed_at"`
	}
	Order struct {
		Id             uuid.UUID       `json:"id"`
		Status         orders.Status   `json:"status"`
		Currency       string          `json:"currency"`
		PaymentAddress string          `json:"payment_address,omitempty"`
		AmountDue      decimal.Decimal `json:"amount_due"`
		AmountPaid     decimal.Decimal `json:"amount_paid"`
		// Present only when more than due was received
		Overpaid      *decimal.Decimal `json:"overpaid,omitempty"`
		Description   string           `json:"description,omitempty"`
		CustomerEmail string           `json:"customer_email,omitempty"`
		Metadata      json.RawMessage  `json:"metadata,omitempty"`
		CreatedAt     time.Time        `json:"created_at"`
		ExpiresAt     time.Time        `json:"expires_at"`
		UpdatedAt     time.Time        `json:"updated_at"`
		FinalizedAt   *time.Time       `json:"finalized_at,omitempty"`
		FailureReason string           `json:"failure_reason,omitempty"`
		Transactions  []Transaction    `json:"transactions"`
	}
	OrderList struct {
		Orders []Order `json:"orders"`
		Total  int     `json:"total"`
		Limit  int     `json:"limit"`
		Offset int     `json:"offset"`
	}
	Health struct {
		Status  string           `json:"status"`
		Balance *decimal.Decimal `json:"balance,omitempty"`
	}
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	ErrorResponse struct {
		Error Error `json:"error"`
	}
)

// Convert from the gateway order to its public representation. Labels and
// versions stay internal
func OrderFromGateway(src *orders.Order) (order Order) {
	order = Order{
		Id:             src.Id,
		Status:         src.Status,
		Currency:       src.Currency,
		PaymentAddress: src.PaymentAddress,
		Description:    src.Description,
		CustomerEmail:  src.CustomerEmail,
		Metadata:       src.Metadata,
		CreatedAt:      src.CreatedAt,
		ExpiresAt:      src.ExpiresAt,
		UpdatedAt:      src.UpdatedAt,
		FailureReason:  src.FailureReason,
		Transactions:   make([]Transaction, 0, len(src.Transactions)),
	}
	order.AmountDue.FromUint64(src.AmountDue)
	order.AmountPaid.FromUint64(src.AmountPaid)
	if overpaid := src.Overpaid(); overpaid > 0 {
		order.Overpaid = &decimal.Decimal{}
		order.Overpaid.FromUint64(overpaid)
	}
	if !src.FinalizedAt.IsZero() {
		finalizedAt := src.FinalizedAt
		order.FinalizedAt = &finalizedAt
	}
	for _, tx := range src.Transactions {
		out := Transaction{
			TxId:          tx.TxId,
			Confirmations: tx.Confirmations,
			ObservedAt:    tx.ObservedAt,
		}
		out.Amount.FromUint64(tx.Amount)
		order.Transactions = append(order.Transactions, out)
	}
	return order
}
