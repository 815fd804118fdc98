package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/RogueTeam/8ball/random"
	wallets "github.com/RogueTeam/8ball/wallets"
)

// Mock implements the wallets.Wallet interface for testing purposes.
type Mock struct {
	mu           sync.Mutex
	rand         *rand.Rand
	addresses    map[string]string // address -> label
	nextIndex    uint64
	transactions []wallets.Transaction
	delay        time.Duration
	reuse        string
	failures     map[string]error
}

var _ wallets.Wallet = (*Mock)(nil)

type Config struct {
	// Latency added to every call. Honors context cancellation
	Delay time.Duration
}

// New creates a new Mock wallet.
func New(config Config) *Mock {
	return &Mock{
		rand:      random.CryptoRand(),
		addresses: make(map[string]string),
		failures:  make(map[string]error),
		delay:     config.Delay,
	}
}

func (m *Mock) wait(ctx context.Context, method string) (err error) {
	m.mu.Lock()
	delay := m.delay
	failure, found := m.failures[method]
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", wallets.ErrUnavailable, method, ctx.Err())
		case <-timer.C:
		}
	}
	if found {
		return failure
	}
	return nil
}

// SetDelay changes the latency of the following calls
func (m *Mock) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// Fail makes every call to method return err. A nil err clears the failure
func (m *Mock) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Reuse makes the next NewAddress call hand out address again
func (m *Mock) Reuse(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuse = address
}

// Label returns the label currently attached to address
func (m *Mock) Label(address string) (label string, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label, found = m.addresses[address]
	return label, found
}

// Receive simulates an incoming payment with zero confirmations
func (m *Mock) Receive(address string, amount uint64) (txId string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txId = random.String(m.rand, random.CharsetHex, 64)
	m.transactions = append(m.transactions, wallets.Transaction{
		TxId:     txId,
		Address:  address,
		Category: wallets.CategoryReceive,
		Amount:   amount,
		Label:    m.addresses[address],
		Time:     time.Now(),
	})
	return txId
}

// Confirm sets the confirmation count of txId
func (m *Mock) Confirm(txId string, confirmations uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for index := range m.transactions {
		if m.transactions[index].TxId == txId {
			m.transactions[index].Confirmations = confirmations
		}
	}
}

// NewAddress creates a new mock address.
func (m *Mock) NewAddress(ctx context.Context, req wallets.NewAddressRequest) (address wallets.Address, err error) {
	err = m.wait(ctx, "getnewaddress")
	if err != nil {
		return address, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	newAddress := fmt.Sprintf("mock_address_%d", m.nextIndex)
	if m.reuse != "" {
		newAddress, m.reuse = m.reuse, ""
	} else {
		m.nextIndex++
	}
	m.addresses[newAddress] = req.Label

	address = wallets.Address{Address: newAddress, Label: req.Label}
	return address, nil
}

func (m *Mock) SetLabel(ctx context.Context, req wallets.SetLabelRequest) (err error) {
	err = m.wait(ctx, "setlabel")
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, found := m.addresses[req.Address]
	if !found {
		return fmt.Errorf("%w: %s", wallets.ErrInvalidAddress, req.Address)
	}
	m.addresses[req.Address] = req.Label
	return nil
}

// ValidateAddress reports addresses created by this mock as valid and owned
func (m *Mock) ValidateAddress(ctx context.Context, req wallets.ValidateAddressRequest) (valid wallets.ValidateAddress, err error) {
	err = m.wait(ctx, "validateaddress")
	if err != nil {
		return valid, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	label, found := m.addresses[req.Address]
	valid = wallets.ValidateAddress{Valid: found, Mine: found, Label: label}
	return valid, nil
}

func (m *Mock) Balance(ctx context.Context) (balance uint64, err error) {
	err = m.wait(ctx, "getbalance")
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range m.transactions {
		if tx.Confirmations > 0 {
			balance += tx.Amount
		}
	}
	return balance, nil
}

// Transactions pages like listtransactions: skip counts from the most recent
// entry and the page is returned oldest first
func (m *Mock) Transactions(ctx context.Context, req wallets.TransactionsRequest) (txs []wallets.Transaction, err error) {
	err = m.wait(ctx, "listtransactions")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := uint64(len(m.transactions))
	if req.Skip >= total {
		return []wallets.Transaction{}, nil
	}
	end := total - req.Skip
	var start uint64
	if req.Count < end {
		start = end - req.Count
	}

	txs = make([]wallets.Transaction, end-start)
	copy(txs, m.transactions[start:end])
	return txs, nil
}

func (m *Mock) Transaction(ctx context.Context, req wallets.TransactionRequest) (tx wallets.Transaction, err error) {
	err = m.wait(ctx, "gettransaction")
	if err != nil {
		return tx, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.transactions {
		if entry.TxId != req.TxId {
			continue
		}
		if req.Address != "" && entry.Address != req.Address {
			// Known transaction without outputs to the address
			return wallets.Transaction{TxId: entry.TxId, Confirmations: entry.Confirmations, Time: entry.Time}, nil
		}
		return entry, nil
	}
	return tx, fmt.Errorf("%w: %s", wallets.ErrTransactionNotFound, req.TxId)
}
