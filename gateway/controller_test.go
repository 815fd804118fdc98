package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/gateway"
	"github.com/RogueTeam/8ball/gateway/testsuite"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/storage/badgerdb"
	"github.com/RogueTeam/8ball/utils"
	"github.com/RogueTeam/8ball/wallets"
	"github.com/RogueTeam/8ball/wallets/mock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type generator struct {
	m *mock.Mock
}

func (g *generator) Fund(t *testing.T, address string, amount uint64) (txId string) {
	return g.m.Receive(address, amount)
}

func (g *generator) Confirm(t *testing.T, txId string, confirmations uint64) {
	g.m.Confirm(txId, confirmations)
}

// faultyStore injects failures in front of a real store
type faultyStore struct {
	storage.Store
	createErr error
	conflicts atomic.Int64
	// ByAddress calls answered with ErrNotFound
	byAddressMisses atomic.Int64
}

func (s *faultyStore) ByAddress(ctx context.Context, address string) (order orders.Order, err error) {
	if s.byAddressMisses.Add(-1) >= 0 {
		return order, storage.ErrNotFound
	}
	return s.Store.ByAddress(ctx, address)
}

func (s *faultyStore) Create(ctx context.Context, order *orders.Order) (err error) {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.Create(ctx, order)
}

func (s *faultyStore) Update(ctx context.Context, order *orders.Order) (err error) {
	if s.conflicts.Add(-1) >= 0 {
		return storage.ErrConflict
	}
	return s.Store.Update(ctx, order)
}

type env struct {
	ctrl   *gateway.Controller
	wallet *mock.Mock
	store  *faultyStore
	clock  *testsuite.Clock
}

func newEnv(t *testing.T, modify func(config *gateway.Config)) (e *env) {
	store, err := badgerdb.Open(badgerdb.Config{InMemory: true})
	require.Nil(t, err, "failed to open database")
	t.Cleanup(func() { store.Close() })

	e = &env{
		wallet: mock.New(mock.Config{}),
		store:  &faultyStore{Store: store},
		clock:  testsuite.NewClock(time.Now()),
	}
	config := gateway.Config{
		Store:            e.store,
		Wallet:           e.wallet,
		Currency:         "PEPE",
		Timeout:          time.Hour,
		RPCTimeout:       time.Second,
		MinAmount:        1_000,
		MaxAmount:        1_000_000_000_000,
		MinConfirmations: 1,
		MaxRetries:       3,
		Now:              e.clock.Now,
	}
	if modify != nil {
		modify(&config)
	}
	e.ctrl = gateway.New(config)
	return e
}

func (e *env) order(t *testing.T, amount uint64) (order orders.Order) {
	order, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: amount})
	require.Nil(t, err, "failed to create order")
	return order
}

func event(order orders.Order, txId string, amount, confirmations uint64) (e gateway.PaymentEvent) {
	return gateway.PaymentEvent{
		Address:       order.PaymentAddress,
		TxId:          txId,
		Amount:        amount,
		Confirmations: confirmations,
		Timestamp:     time.Now(),
	}
}

func Test_Integration(t *testing.T) {
	t.Run("Mock", func(t *testing.T) {
		w := mock.New(mock.Config{})
		testsuite.Test(t, w, &generator{m: w})
	})
}

func Test_Receive(t *testing.T) {
	t.Run("Succeed", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		ctx, cancel := utils.NewContext()
		defer cancel()

		order, err := e.ctrl.Receive(ctx, &gateway.Receive{
			Amount:        150_000_000,
			Currency:      "pepe",
			Description:   "two coffees",
			CustomerEmail: "customer@example.com",
			Metadata:      []byte(`{"cart":"42"}`),
		})
		if !assertions.Nil(err, "failed to create order") {
			return
		}
		assertions.Equal(orders.StatusPending, order.Status)
		assertions.Equal("PEPE", order.Currency)
		assertions.Equal(gateway.Label(order.Id), order.Label)
		assertions.True(order.ExpiresAt.After(order.CreatedAt))

		label, found := e.wallet.Label(order.PaymentAddress)
		assertions.True(found)
		assertions.Equal(order.Label, label, "address must be attributable to the order")

		stored, err := e.ctrl.Query(ctx, order.Id)
		assertions.Nil(err, "failed to query order")
		assertions.Equal(order.PaymentAddress, stored.PaymentAddress)
		assertions.JSONEq(`{"cart":"42"}`, string(stored.Metadata))
		assertions.Equal(float64(1), testutil.ToFloat64(e.ctrl.Metrics().OrdersCreated))

		second := e.order(t, 150_000_000)
		assertions.NotEqual(order.PaymentAddress, second.PaymentAddress)
	})
	t.Run("Invalid", func(t *testing.T) {
		e := newEnv(t, nil)
		tests := map[string]gateway.Receive{
			"zero amount":    {Amount: 0},
			"below minimum":  {Amount: 999},
			"above maximum":  {Amount: 1_000_000_000_001},
			"other currency": {Amount: 10_000, Currency: "BTC"},
			"bad email":      {Amount: 10_000, CustomerEmail: "not-an-email"},
			"array metadata": {Amount: 10_000, Metadata: []byte(`[1,2]`)},
			"broken json":    {Amount: 10_000, Metadata: []byte(`{"a":`)},
		}
		for name, req := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := e.ctrl.Receive(context.TODO(), &req)
				assert.ErrorIs(t, err, gateway.ErrInvalidRequest)
			})
		}

		result, err := e.ctrl.List(context.TODO(), storage.ListRequest{})
		assert.Nil(t, err)
		assert.Zero(t, result.Total, "rejected requests are never persisted")
	})
	t.Run("Timeout", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, func(config *gateway.Config) {
			config.RPCTimeout = 50 * time.Millisecond
		})
		e.wallet.SetDelay(time.Second)

		start := time.Now()
		order, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: 10_000})
		assertions.ErrorIs(err, gateway.ErrExternalService)
		assertions.Less(time.Since(start), 900*time.Millisecond, "a stalled daemon must not block creation")

		stored, err := e.ctrl.Query(context.TODO(), order.Id)
		if !assertions.Nil(err, "failed orders are kept for audit") {
			return
		}
		assertions.Equal(orders.StatusFailed, stored.Status)
		assertions.Equal(gateway.FailureReasonAllocation, stored.FailureReason)
		assertions.Empty(stored.PaymentAddress)
	})
	t.Run("Daemon error", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		e.wallet.Fail("getnewaddress", wallets.ErrUnavailable)

		_, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: 10_000})
		assertions.ErrorIs(err, gateway.ErrExternalService)
		assertions.ErrorIs(err, wallets.ErrUnavailable)
		assertions.Equal(float64(1), testutil.ToFloat64(e.ctrl.Metrics().RPCErrors.WithLabelValues("getnewaddress")))

		e.wallet.Fail("getnewaddress", nil)
		e.order(t, 10_000)
	})
	t.Run("Address conflict", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		owner := e.order(t, 10_000)

		e.wallet.Reuse(owner.PaymentAddress)
		_, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: 20_000})
		assertions.ErrorIs(err, gateway.ErrAddressConflict)
		assertions.Equal(float64(1), testutil.ToFloat64(e.ctrl.Metrics().AddressConflicts))

		label, _ := e.wallet.Label(owner.PaymentAddress)
		assertions.Equal(owner.Label, label, "the owner keeps the attribution")

		result, err := e.ctrl.List(context.TODO(), storage.ListRequest{})
		assertions.Nil(err)
		assertions.Equal(1, result.Total, "conflicting order must not be persisted")
	})
	t.Run("Storage range", func(t *testing.T) {
		e := newEnv(t, func(config *gateway.Config) {
			config.MaxAmount = 0
		})
		_, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: decimal.MaxAtomic + 1})
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest)

		_, err = e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: decimal.MaxAtomic})
		assert.Nil(t, err, "unbounded orders accept the largest storable amount")
	})
	t.Run("Validation failure unlabels", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		e.wallet.Fail("validateaddress", wallets.ErrUnavailable)

		_, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: 10_000})
		assertions.ErrorIs(err, gateway.ErrExternalService)

		label, found := e.wallet.Label("mock_address_0")
		assertions.True(found, "the address was handed out")
		assertions.Empty(label, "a failed allocation must not keep the order label")
	})
	t.Run("Address conflict on create", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		owner := e.order(t, 10_000)

		// The binding check misses the owner, the store still refuses the address
		e.store.byAddressMisses.Store(1)
		e.wallet.Reuse(owner.PaymentAddress)
		_, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: 20_000})
		assertions.ErrorIs(err, gateway.ErrAddressConflict)
		assertions.Equal(float64(1), testutil.ToFloat64(e.ctrl.Metrics().AddressConflicts))

		label, _ := e.wallet.Label(owner.PaymentAddress)
		assertions.Equal(owner.Label, label, "the owner keeps the attribution")
	})
	t.Run("Compensation", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		persistErr := errors.New("disk full")
		e.store.createErr = persistErr

		order, err := e.ctrl.Receive(context.TODO(), &gateway.Receive{Amount: 10_000})
		assertions.ErrorIs(err, persistErr)
		if !assertions.NotEmpty(order.PaymentAddress) {
			return
		}

		label, found := e.wallet.Label(order.PaymentAddress)
		assertions.True(found)
		assertions.Empty(label, "address must be unlabeled after a failed persist")
	})
}

func Test_Apply(t *testing.T) {
	t.Run("Partial then full", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 100_000)

		result, err := e.ctrl.Apply(context.TODO(), event(order, "a", 40_000, 1))
		assertions.Nil(err)
		assertions.Equal(gateway.OutcomeRecorded, result.Outcome)
		assertions.Equal(orders.StatusPending, result.From)
		assertions.Equal(orders.StatusPartiallyPaid, result.To)
		assertions.Equal(uint64(40_000), result.Order.AmountPaid)

		result, err = e.ctrl.Apply(context.TODO(), event(order, "b", 60_000, 3))
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, result.Order.Status)
		assertions.Equal(uint64(100_000), result.Order.AmountPaid)
		assertions.False(result.Order.FinalizedAt.IsZero())

		transitions := e.ctrl.Metrics().Transitions
		assertions.Equal(float64(1), testutil.ToFloat64(transitions.WithLabelValues(string(orders.StatusPaid))))
	})
	t.Run("Idempotent", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 100_000)

		payment := event(order, "a", 40_000, 1)
		_, err := e.ctrl.Apply(context.TODO(), payment)
		assertions.Nil(err)

		result, err := e.ctrl.Apply(context.TODO(), payment)
		assertions.Nil(err)
		assertions.Equal(gateway.OutcomeDuplicate, result.Outcome)
		assertions.Equal(uint64(40_000), result.Order.AmountPaid)
		assertions.Len(result.Order.Transactions, 1)

		payment.Confirmations = 0
		result, err = e.ctrl.Apply(context.TODO(), payment)
		assertions.Nil(err)
		assertions.Equal(gateway.OutcomeDuplicate, result.Outcome, "lower confirmation counts are ignored")
	})
	t.Run("Confirmations arrive later", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 100_000)

		result, err := e.ctrl.Apply(context.TODO(), event(order, "a", 100_000, 0))
		assertions.Nil(err)
		assertions.Equal(gateway.OutcomeRecorded, result.Outcome)
		assertions.Equal(orders.StatusPending, result.Order.Status)
		assertions.Zero(result.Order.AmountPaid, "unconfirmed funds do not count")

		result, err = e.ctrl.Apply(context.TODO(), event(order, "a", 100_000, 1))
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, result.Order.Status)
		assertions.Len(result.Order.Transactions, 1, "confirmation update must not append")
	})
	t.Run("Unmatched", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		result, err := e.ctrl.Apply(context.TODO(), gateway.PaymentEvent{Address: "unknown", TxId: "a", Amount: 1})
		assertions.Nil(err)
		assertions.Equal(gateway.OutcomeUnmatched, result.Outcome)

		order := e.order(t, 10_000)
		_, err = e.ctrl.Apply(context.TODO(), event(order, "a", 10_000, 1))
		assertions.Nil(err)

		result, err = e.ctrl.Apply(context.TODO(), event(order, "late", 5_000, 1))
		assertions.Nil(err)
		assertions.Equal(gateway.OutcomeUnmatched, result.Outcome, "finalized orders take no more payments")

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(uint64(10_000), latest.AmountPaid)
		assertions.Equal(float64(2), testutil.ToFloat64(e.ctrl.Metrics().PaymentEvents.WithLabelValues(string(gateway.OutcomeUnmatched))))
	})
	t.Run("Invalid event", func(t *testing.T) {
		e := newEnv(t, nil)
		_, err := e.ctrl.Apply(context.TODO(), gateway.PaymentEvent{Address: "a", Amount: 1})
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest)

		_, err = e.ctrl.Apply(context.TODO(), gateway.PaymentEvent{Address: "a", TxId: "b", Amount: decimal.MaxAtomic + 1})
		assert.ErrorIs(t, err, gateway.ErrInvalidRequest, "amounts beyond the storage range are rejected")
	})
	t.Run("Retry conflicts", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 100_000)

		e.store.conflicts.Store(2)
		result, err := e.ctrl.Apply(context.TODO(), event(order, "a", 100_000, 1))
		assertions.Nil(err, "conflicts within the retry budget are absorbed")
		assertions.Equal(orders.StatusPaid, result.Order.Status)
	})
	t.Run("Persistence conflict", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 100_000)

		e.store.conflicts.Store(100)
		_, err := e.ctrl.Apply(context.TODO(), event(order, "a", 100_000, 1))
		assertions.ErrorIs(err, gateway.ErrPersistenceConflict)

		e.store.conflicts.Store(0)
		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPending, latest.Status)
		assertions.Empty(latest.Transactions)
	})
	t.Run("Concurrent events", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 1_000_000)

		const parts = 20
		var wg sync.WaitGroup
		for index := range parts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				payment := event(order, fmt.Sprintf("tx-%d", index), 1_000_000/parts, 1)
				_, err := e.ctrl.Apply(context.TODO(), payment)
				assertions.Nil(err)
			}()
		}
		wg.Wait()

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, latest.Status)
		assertions.Equal(uint64(1_000_000), latest.AmountPaid)
		assertions.Len(latest.Transactions, parts)
	})
}

func Test_Sweep(t *testing.T) {
	t.Run("Expire", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		unpaid := e.order(t, 10_000)
		partial := e.order(t, 10_000)
		paid := e.order(t, 10_000)

		_, err := e.ctrl.Apply(context.TODO(), event(partial, "a", 5_000, 1))
		assertions.Nil(err)
		_, err = e.ctrl.Apply(context.TODO(), event(paid, "b", 10_000, 1))
		assertions.Nil(err)

		expired, err := e.ctrl.Sweep(context.TODO())
		assertions.Nil(err)
		assertions.Zero(expired, "nothing reached its deadline")

		e.clock.Advance(time.Hour)
		expired, err = e.ctrl.Sweep(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(2), expired)

		for _, test := range []struct {
			order  orders.Order
			status orders.Status
		}{
			{unpaid, orders.StatusExpired},
			{partial, orders.StatusExpired},
			{paid, orders.StatusPaid},
		} {
			latest, err := e.ctrl.Query(context.TODO(), test.order.Id)
			assertions.Nil(err)
			assertions.Equal(test.status, latest.Status)
		}

		expired, err = e.ctrl.Sweep(context.TODO())
		assertions.Nil(err)
		assertions.Zero(expired, "sweeping twice changes nothing")
	})
	t.Run("Payment wins", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 10_000)
		e.clock.Advance(2 * time.Hour)

		_, err := e.ctrl.Apply(context.TODO(), event(order, "late", 10_000, 1))
		assertions.Nil(err)

		expired, err := e.ctrl.Sweep(context.TODO())
		assertions.Nil(err)
		assertions.Zero(expired)

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, latest.Status)
	})
	t.Run("Race", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		var created []orders.Order
		for range 20 {
			created = append(created, e.order(t, 10_000))
		}
		e.clock.Advance(2 * time.Hour)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for index, order := range created {
				_, err := e.ctrl.Apply(context.TODO(), event(order, fmt.Sprintf("tx-%d", index), 10_000, 1))
				assertions.Nil(err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := e.ctrl.Sweep(context.TODO())
			assertions.Nil(err)
		}()
		wg.Wait()

		for _, order := range created {
			latest, err := e.ctrl.Query(context.TODO(), order.Id)
			assertions.Nil(err)
			switch latest.Status {
			case orders.StatusPaid:
				assertions.Equal(uint64(10_000), latest.AmountPaid)
			case orders.StatusExpired:
				assertions.Zero(latest.AmountPaid, "expired orders never receive funds afterwards")
			default:
				t.Errorf("order %s left in %s", order.Id, latest.Status)
			}
		}
	})
}

func Test_Poll(t *testing.T) {
	t.Run("Window", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 10_000)
		first := e.wallet.Receive(order.PaymentAddress, 4_000)
		e.wallet.Confirm(first, 1)
		second := e.wallet.Receive(order.PaymentAddress, 6_000)
		e.wallet.Confirm(second, 1)
		e.wallet.Receive("foreign_address", 1)

		events, err := e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(3), events)

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, latest.Status)

		events, err = e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		assertions.Zero(events, "settled events are not applied again")
	})
	t.Run("Paging", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, func(config *gateway.Config) {
			config.PollCount = 3
			config.PollPages = 5
		})
		order := e.order(t, 10*1_000)
		for range 10 {
			txId := e.wallet.Receive(order.PaymentAddress, 1_000)
			e.wallet.Confirm(txId, 1)
		}

		events, err := e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(10), events)

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, latest.Status)
		assertions.Len(latest.Transactions, 10)
	})
	t.Run("Confirmation outside the window", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, func(config *gateway.Config) {
			config.PollCount = 2
			config.PollPages = 1
		})
		order := e.order(t, 10_000)
		txId := e.wallet.Receive(order.PaymentAddress, 10_000)

		_, err := e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPending, latest.Status)
		assertions.Len(latest.Transactions, 1, "unconfirmed payment is recorded")

		// Newer entries push the payment out of the listtransactions window
		e.wallet.Receive("foreign_address_a", 1)
		e.wallet.Receive("foreign_address_b", 1)
		e.wallet.Confirm(txId, 1)

		_, err = e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		latest, err = e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPaid, latest.Status, "confirmations must be followed with gettransaction")
		assertions.Equal(uint64(10_000), latest.AmountPaid)

		e.clock.Advance(2 * time.Hour)
		result, err := e.ctrl.Process(context.TODO())
		assertions.Nil(err)
		assertions.Zero(result.Expired, "paid orders never expire")
	})
	t.Run("Unmatched recheck", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, func(config *gateway.Config) {
			config.UnmatchedRecheck = time.Minute
		})
		e.wallet.Receive("mock_address_0", 10_000)

		events, err := e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(1), events)

		// Address handed out after the payment was first seen
		order := e.order(t, 10_000)
		assertions.Equal("mock_address_0", order.PaymentAddress)

		events, err = e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		assertions.Zero(events, "unmatched events wait for the recheck")

		e.clock.Advance(time.Minute)
		events, err = e.ctrl.Poll(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(1), events)

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Len(latest.Transactions, 1)
	})
	t.Run("Daemon down skips sweep", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, nil)
		order := e.order(t, 10_000)
		e.clock.Advance(2 * time.Hour)

		e.wallet.Fail("listtransactions", wallets.ErrUnavailable)
		_, err := e.ctrl.Process(context.TODO())
		assertions.ErrorIs(err, gateway.ErrExternalService)

		latest, err := e.ctrl.Query(context.TODO(), order.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusPending, latest.Status, "unobserved payments must not lose to expiry")

		e.wallet.Fail("listtransactions", nil)
		result, err := e.ctrl.Process(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(1), result.Expired)
	})
	t.Run("Disabled", func(t *testing.T) {
		assertions := assert.New(t)

		e := newEnv(t, func(config *gateway.Config) {
			config.DisablePoll = true
		})
		e.wallet.Fail("listtransactions", wallets.ErrUnavailable)
		e.order(t, 10_000)
		e.clock.Advance(2 * time.Hour)

		result, err := e.ctrl.Process(context.TODO())
		assertions.Nil(err)
		assertions.Equal(uint64(1), result.Expired)
	})
}

func Test_Cancel(t *testing.T) {
	assertions := assert.New(t)

	e := newEnv(t, nil)
	order := e.order(t, 10_000)

	cancelled, err := e.ctrl.Cancel(context.TODO(), order.Id)
	assertions.Nil(err)
	assertions.Equal(orders.StatusFailed, cancelled.Status)
	assertions.Equal(orders.FailureReasonCancelled, cancelled.FailureReason)

	_, err = e.ctrl.Cancel(context.TODO(), order.Id)
	assertions.ErrorIs(err, gateway.ErrInvalidTransition)

	_, err = e.ctrl.Cancel(context.TODO(), uuid.New())
	assertions.ErrorIs(err, gateway.ErrNotFound)

	result, err := e.ctrl.Apply(context.TODO(), event(order, "a", 10_000, 1))
	assertions.Nil(err)
	assertions.Equal(gateway.OutcomeUnmatched, result.Outcome)
}

func Test_List(t *testing.T) {
	assertions := assert.New(t)

	e := newEnv(t, nil)
	for range 25 {
		e.order(t, 10_000)
	}
	paid := e.order(t, 10_000)
	_, err := e.ctrl.Apply(context.TODO(), event(paid, "a", 10_000, 1))
	assertions.Nil(err)

	result, err := e.ctrl.List(context.TODO(), storage.ListRequest{})
	assertions.Nil(err)
	assertions.Equal(26, result.Total)
	assertions.Len(result.Orders, storage.DefaultLimit)

	result, err = e.ctrl.List(context.TODO(), storage.ListRequest{Limit: 1_000, Offset: 20})
	assertions.Nil(err)
	assertions.Len(result.Orders, 6)

	status := orders.StatusPaid
	result, err = e.ctrl.List(context.TODO(), storage.ListRequest{Status: &status})
	assertions.Nil(err)
	assertions.Equal(1, result.Total)
	assertions.Equal(paid.Id, result.Orders[0].Id)

	invalid := orders.Status("completed")
	_, err = e.ctrl.List(context.TODO(), storage.ListRequest{Status: &invalid})
	assertions.ErrorIs(err, gateway.ErrInvalidRequest)

	_, err = e.ctrl.List(context.TODO(), storage.ListRequest{Offset: -1})
	assertions.ErrorIs(err, gateway.ErrInvalidRequest)
}

func Test_Health(t *testing.T) {
	assertions := assert.New(t)

	e := newEnv(t, nil)
	txId := e.wallet.Receive("somewhere", 5_000)
	e.wallet.Confirm(txId, 1)

	balance, err := e.ctrl.Health(context.TODO())
	assertions.Nil(err)
	assertions.Equal(uint64(5_000), balance)

	e.wallet.Fail("getbalance", wallets.ErrUnavailable)
	_, err = e.ctrl.Health(context.TODO())
	assertions.ErrorIs(err, gateway.ErrExternalService)
}
