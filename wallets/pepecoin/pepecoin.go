package pepecoin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/internal/walletrpc/rpc"
	wallets "github.com/RogueTeam/8ball/wallets"
)

// Any account
const AllAccounts = "*"

type Config struct {
	Client *rpc.Client
}

// Wallet talks to a pepecoind (bitcoind family) wallet
type Wallet struct {
	client *rpc.Client
}

var _ wallets.Wallet = (*Wallet)(nil)

func New(config Config) (w *Wallet) {
	return &Wallet{client: config.Client}
}

type (
	validateAddressResult struct {
		IsValid bool   `json:"isvalid"`
		Address string `json:"address"`
		IsMine  bool   `json:"ismine"`
		Label   string `json:"label"`
		Account string `json:"account"`
	}
	transactionEntry struct {
		Address       string          `json:"address"`
		Category      string          `json:"category"`
		Amount        decimal.Decimal `json:"amount"`
		Label         string          `json:"label"`
		Account       string          `json:"account"`
		Confirmations int64           `json:"confirmations"`
		TxId          string          `json:"txid"`
		Time          int64           `json:"time"`
	}
	transactionDetail struct {
		Address  string          `json:"address"`
		Category string          `json:"category"`
		Amount   decimal.Decimal `json:"amount"`
		Label    string          `json:"label"`
	}
	transactionResult struct {
		TxId          string              `json:"txid"`
		Confirmations int64               `json:"confirmations"`
		Time          int64               `json:"time"`
		Details       []transactionDetail `json:"details"`
	}
)

// convertError classifies daemon failures so callers can tell retryable
// conditions apart from bad input
func convertError(method string, err error) error {
	var rpcErr *rpc.Error
	switch {
	case errors.Is(err, rpc.ErrTransport), errors.Is(err, rpc.ErrUnauthorized):
		return fmt.Errorf("%w: %s: %w", wallets.ErrUnavailable, method, err)
	case errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeWarmingUp:
		return fmt.Errorf("%w: %s: %w", wallets.ErrUnavailable, method, err)
	case errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeInvalidAddress:
		return fmt.Errorf("%w: %s: %w", wallets.ErrInvalidAddress, method, err)
	default:
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
}

// Confirmations are negative for conflicted transactions
func confirmations(n int64) (c uint64) {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func amount(d decimal.Decimal) (v uint64) {
	d.Value = d.Value.Abs()
	return d.ToUint64()
}

func label(entryLabel, account string) (s string) {
	if entryLabel != "" {
		return entryLabel
	}
	return account
}

func (w *Wallet) NewAddress(ctx context.Context, req wallets.NewAddressRequest) (address wallets.Address, err error) {
	err = w.client.Call(ctx, "getnewaddress", &address.Address, req.Label)
	if err != nil {
		return address, convertError("getnewaddress", err)
	}
	if address.Address == "" {
		return address, fmt.Errorf("%w: daemon returned an empty address", wallets.ErrInvalidAddress)
	}
	address.Label = req.Label
	return address, nil
}

func (w *Wallet) SetLabel(ctx context.Context, req wallets.SetLabelRequest) (err error) {
	err = w.client.Call(ctx, "setlabel", nil, req.Address, req.Label)
	if err != nil {
		return convertError("setlabel", err)
	}
	return nil
}

func (w *Wallet) ValidateAddress(ctx context.Context, req wallets.ValidateAddressRequest) (valid wallets.ValidateAddress, err error) {
	var result validateAddressResult
	err = w.client.Call(ctx, "validateaddress", &result, req.Address)
	if err != nil {
		return valid, convertError("validateaddress", err)
	}

	valid = wallets.ValidateAddress{
		Valid: result.IsValid,
		Mine:  result.IsMine,
		Label: label(result.Label, result.Account),
	}
	return valid, nil
}

func (w *Wallet) Balance(ctx context.Context) (balance uint64, err error) {
	var result decimal.Decimal
	err = w.client.Call(ctx, "getbalance", &result)
	if err != nil {
		return 0, convertError("getbalance", err)
	}
	return amount(result), nil
}

func (w *Wallet) Transactions(ctx context.Context, req wallets.TransactionsRequest) (txs []wallets.Transaction, err error) {
	var entries []transactionEntry
	err = w.client.Call(ctx, "listtransactions", &entries, AllAccounts, req.Count, req.Skip, true)
	if err != nil {
		return nil, convertError("listtransactions", err)
	}

	txs = make([]wallets.Transaction, 0, len(entries))
	for _, entry := range entries {
		if wallets.Category(entry.Category) != wallets.CategoryReceive {
			continue
		}
		txs = append(txs, wallets.Transaction{
			TxId:          entry.TxId,
			Address:       entry.Address,
			Category:      wallets.CategoryReceive,
			Amount:        amount(entry.Amount),
			Confirmations: confirmations(entry.Confirmations),
			Label:         label(entry.Label, entry.Account),
			Time:          time.Unix(entry.Time, 0),
		})
	}
	return txs, nil
}

func (w *Wallet) Transaction(ctx context.Context, req wallets.TransactionRequest) (tx wallets.Transaction, err error) {
	var result transactionResult
	err = w.client.Call(ctx, "gettransaction", &result, req.TxId)
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && (rpcErr.Code == rpc.CodeInvalidAddress || rpcErr.Code == rpc.CodeInvalidParameter) {
			return tx, fmt.Errorf("%w: %s", wallets.ErrTransactionNotFound, req.TxId)
		}
		return tx, convertError("gettransaction", err)
	}

	tx = wallets.Transaction{
		TxId:          result.TxId,
		Confirmations: confirmations(result.Confirmations),
		Time:          time.Unix(result.Time, 0),
	}
	for _, detail := range result.Details {
		if wallets.Category(detail.Category) != wallets.CategoryReceive {
			continue
		}
		if req.Address != "" && detail.Address != req.Address {
			continue
		}
		tx.Address = detail.Address
		tx.Category = wallets.CategoryReceive
		tx.Amount += amount(detail.Amount)
		tx.Label = detail.Label
	}
	return tx, nil
}
