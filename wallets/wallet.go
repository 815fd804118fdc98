package wallets

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// Daemon unreachable, stalled or refusing requests
	ErrUnavailable         = errors.New("wallet unavailable")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrTransactionNotFound = errors.New("transaction not found")
)

type Category string

const (
	CategoryReceive  Category = "receive"
	CategorySend     Category = "send"
	CategoryGenerate Category = "generate"
)

type (
	NewAddressRequest struct {
		// Label for the new address
		Label string
	}
	Address struct {
		// Address returned by the daemon
		Address string
		// Label attached to the address
		Label string
	}
	SetLabelRequest struct {
		Address string
		// Empty label removes the attribution
		Label string
	}
	ValidateAddressRequest struct {
		Address string
	}
	ValidateAddress struct {
		Valid bool
		// Address belongs to the opened wallet
		Mine  bool
		Label string
	}
	TransactionsRequest struct {
		// Page size
		Count uint64
		// Entries to skip, counted from the most recent
		Skip uint64
	}
	TransactionRequest struct {
		TxId string
		// Only count the outputs paying this address. Empty counts every receive output
		Address string
	}
	Transaction struct {
		TxId          string
		Address       string
		Category      Category
		Amount        uint64
		Confirmations uint64
		Label         string
		Time          time.Time
	}
)

type Wallet interface {
	// Create a new address tagged with label
	NewAddress(ctx context.Context, req NewAddressRequest) (address Address, err error)

	// Change the label of an address
	SetLabel(ctx context.Context, req SetLabelRequest) (err error)

	// Validate the address and report its ownership
	ValidateAddress(ctx context.Context, req ValidateAddressRequest) (valid ValidateAddress, err error)

	// Confirmed balance of the opened wallet
	Balance(ctx context.Context) (balance uint64, err error)

	// Incoming transactions, most recent last
	Transactions(ctx context.Context, req TransactionsRequest) (txs []Transaction, err error)

	// Query a single transaction
	Transaction(ctx context.Context, req TransactionRequest) (tx Transaction, err error)
}

func (t *Transaction) String() (s string) {
	contents, _ := json.Marshal(t)
	return string(contents)
}
