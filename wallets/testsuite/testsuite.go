package testsuite

import (
	"testing"
	"time"

	"github.com/RogueTeam/8ball/random"
	"github.com/RogueTeam/8ball/utils"
	wallets "github.com/RogueTeam/8ball/wallets"
	"github.com/stretchr/testify/assert"
)

// DataGenerator drives the daemon side of the tests.
type DataGenerator interface {
	// Fund sends amount to address and returns the transaction id
	Fund(t *testing.T, address string, amount uint64) (txId string)
	// Confirm sets the confirmation count of a funded transaction
	Confirm(t *testing.T, txId string, confirmations uint64)
}

// Test runs a comprehensive suite of tests for any Wallet implementation.
func Test(t *testing.T, w wallets.Wallet, gen DataGenerator) {
	t.Run("NewAddress", func(t *testing.T) {
		assertions := assert.New(t)

		ctx, cancel := utils.NewContextWithTimeout(time.Minute)
		defer cancel()

		label := random.String(random.CryptoRand(), random.CharsetAlphaNumeric, 10)
		address, err := w.NewAddress(ctx, wallets.NewAddressRequest{Label: label})
		assertions.Nil(err, "failed to create new address")
		assertions.NotEmpty(address.Address, "new address should have an address")
		assertions.Equal(label, address.Label)

		address2, err := w.NewAddress(ctx, wallets.NewAddressRequest{Label: label})
		assertions.Nil(err, "failed to create second new address")
		assertions.NotEqual(address.Address, address2.Address, "addresses should be fresh")
	})

	t.Run("ValidateAddress", func(t *testing.T) {
		assertions := assert.New(t)

		ctx, cancel := utils.NewContextWithTimeout(time.Minute)
		defer cancel()

		label := random.String(random.CryptoRand(), random.CharsetAlphaNumeric, 10)
		address, err := w.NewAddress(ctx, wallets.NewAddressRequest{Label: label})
		assertions.Nil(err, "failed to create new address")

		valid, err := w.ValidateAddress(ctx, wallets.ValidateAddressRequest{Address: address.Address})
		assertions.Nil(err, "failed to validate address")
		assertions.True(valid.Valid, "address should be valid")
		assertions.True(valid.Mine, "address should be owned")
		assertions.Equal(label, valid.Label)
	})

	t.Run("SetLabel", func(t *testing.T) {
		assertions := assert.New(t)

		ctx, cancel := utils.NewContextWithTimeout(time.Minute)
		defer cancel()

		address, err := w.NewAddress(ctx, wallets.NewAddressRequest{Label: "to-unlabel"})
		assertions.Nil(err, "failed to create new address")

		err = w.SetLabel(ctx, wallets.SetLabelRequest{Address: address.Address, Label: ""})
		assertions.Nil(err, "failed to unlabel")

		valid, err := w.ValidateAddress(ctx, wallets.ValidateAddressRequest{Address: address.Address})
		assertions.Nil(err, "failed to validate address")
		assertions.Empty(valid.Label)
	})

	t.Run("Transactions", func(t *testing.T) {
		assertions := assert.New(t)

		ctx, cancel := utils.NewContextWithTimeout(time.Minute)
		defer cancel()

		address, err := w.NewAddress(ctx, wallets.NewAddressRequest{Label: "receiver"})
		assertions.Nil(err, "failed to create new address")

		before, err := w.Balance(ctx)
		assertions.Nil(err, "failed to get balance")

		first := gen.Fund(t, address.Address, 150_000_000)
		second := gen.Fund(t, address.Address, 50_000_000)
		gen.Confirm(t, first, 3)

		txs, err := w.Transactions(ctx, wallets.TransactionsRequest{Count: 2})
		assertions.Nil(err, "failed to list transactions")
		if !assertions.Len(txs, 2) {
			return
		}
		assertions.Equal(first, txs[0].TxId, "oldest entry first")
		assertions.Equal(second, txs[1].TxId)
		assertions.Equal(address.Address, txs[0].Address)
		assertions.Equal(uint64(150_000_000), txs[0].Amount)
		assertions.Equal(uint64(3), txs[0].Confirmations)
		assertions.Equal(uint64(0), txs[1].Confirmations)
		assertions.Equal(wallets.CategoryReceive, txs[0].Category)

		older, err := w.Transactions(ctx, wallets.TransactionsRequest{Count: 1, Skip: 1})
		assertions.Nil(err, "failed to list transactions")
		if assertions.Len(older, 1) {
			assertions.Equal(first, older[0].TxId)
		}

		tx, err := w.Transaction(ctx, wallets.TransactionRequest{TxId: second})
		assertions.Nil(err, "failed to query transaction")
		assertions.Equal(uint64(50_000_000), tx.Amount)
		assertions.Equal(address.Address, tx.Address)

		tx, err = w.Transaction(ctx, wallets.TransactionRequest{TxId: second, Address: address.Address})
		assertions.Nil(err, "failed to query transaction by address")
		assertions.Equal(uint64(50_000_000), tx.Amount)

		tx, err = w.Transaction(ctx, wallets.TransactionRequest{TxId: second, Address: "not-paid-here"})
		assertions.Nil(err, "failed to query transaction by address")
		assertions.Zero(tx.Amount, "outputs to other addresses are not counted")

		_, err = w.Transaction(ctx, wallets.TransactionRequest{TxId: "missing"})
		assertions.ErrorIs(err, wallets.ErrTransactionNotFound)

		after, err := w.Balance(ctx)
		assertions.Nil(err, "failed to get balance")
		assertions.Equal(before+150_000_000, after, "only confirmed funds count")
	})
}
