// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns an empty store. It is called once per sub test
type Opener func(t *testing.T) (store storage.Store)

var addressCounter struct {
	sync.Mutex
	n int
}

func NewOrder(now time.Time) (order orders.Order) {
	addressCounter.Lock()
	addressCounter.n++
	address := fmt.Sprintf("PTestAddress%d", addressCounter.n)
	addressCounter.Unlock()

	id := uuid.New()
	return orders.Order{
		Id:             id,
		PaymentAddress: address,
		Label:          "order:" + id.String(),
		Currency:       "PEP",
		AmountDue:      1_000,
		Status:         orders.StatusPending,
		Description:    "test order",
		CustomerEmail:  "buyer@example.com",
		Metadata:       []byte(`{"cart":[1,2,3]}`),
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		UpdatedAt:      now,
	}
}

func sameTime(t *testing.T, expected, actual time.Time, field string) {
	assert.Equal(t, expected.UnixNano(), actual.UnixNano(), field)
}

// Test runs the shared suite against the backend returned by open
func Test(t *testing.T, open Opener) {
	ctx := context.TODO()

	t.Run("Create and Get", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		order := NewOrder(now)
		order.Observe(orders.Transaction{TxId: "tx1", Amount: 400, Confirmations: 1}, now)

		err := store.Create(ctx, &order)
		require.Nil(t, err, "failed to create order")
		assertions.Equal(uint64(1), order.Version)

		stored, err := store.Get(ctx, order.Id)
		require.Nil(t, err, "failed to get order")
		assertions.Equal(order.Id, stored.Id)
		assertions.Equal(order.PaymentAddress, stored.PaymentAddress)
		assertions.Equal(order.Label, stored.Label)
		assertions.Equal(order.Currency, stored.Currency)
		assertions.Equal(order.AmountDue, stored.AmountDue)
		assertions.Equal(order.Status, stored.Status)
		assertions.Equal(order.Description, stored.Description)
		assertions.Equal(order.CustomerEmail, stored.CustomerEmail)
		assertions.JSONEq(string(order.Metadata), string(stored.Metadata))
		assertions.Equal(uint64(1), stored.Version)
		sameTime(t, order.CreatedAt, stored.CreatedAt, "created at")
		sameTime(t, order.ExpiresAt, stored.ExpiresAt, "expires at")
		if assertions.Len(stored.Transactions, 1) {
			assertions.Equal("tx1", stored.Transactions[0].TxId)
			assertions.Equal(uint64(400), stored.Transactions[0].Amount)
			assertions.Equal(uint64(1), stored.Transactions[0].Confirmations)
			sameTime(t, now, stored.Transactions[0].ObservedAt, "observed at")
		}

		_, err = store.Get(ctx, uuid.New())
		assertions.ErrorIs(err, storage.ErrNotFound)
	})

	t.Run("Address binding", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		first := NewOrder(now)
		err := store.Create(ctx, &first)
		require.Nil(t, err, "failed to create order")

		owner, err := store.ByAddress(ctx, first.PaymentAddress)
		require.Nil(t, err, "failed to find owner")
		assertions.Equal(first.Id, owner.Id)

		second := NewOrder(now)
		second.PaymentAddress = first.PaymentAddress
		err = store.Create(ctx, &second)
		assertions.ErrorIs(err, storage.ErrAddressConflict)

		_, err = store.Get(ctx, second.Id)
		assertions.ErrorIs(err, storage.ErrNotFound, "conflicting order must not be persisted")

		err = first.Expire(first.ExpiresAt)
		require.Nil(t, err)
		err = store.Update(ctx, &first)
		require.Nil(t, err, "failed to update order")

		_, err = store.ByAddress(ctx, first.PaymentAddress)
		assertions.ErrorIs(err, storage.ErrNotFound, "terminal orders release their address")

		err = store.Create(ctx, &second)
		assertions.Nil(err, "address should be free again")

		_, err = store.ByAddress(ctx, "unknown")
		assertions.ErrorIs(err, storage.ErrNotFound)
	})

	t.Run("Terminal record without address", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		first := NewOrder(now)
		first.PaymentAddress = ""
		require.Nil(t, first.Fail("address allocation failed", now))
		err := store.Create(ctx, &first)
		assertions.Nil(err)

		second := NewOrder(now)
		second.PaymentAddress = ""
		require.Nil(t, second.Fail("address allocation failed", now))
		err = store.Create(ctx, &second)
		assertions.Nil(err, "empty addresses never conflict")

		stored, err := store.Get(ctx, second.Id)
		assertions.Nil(err)
		assertions.Equal(orders.StatusFailed, stored.Status)
		assertions.Equal("address allocation failed", stored.FailureReason)
	})

	t.Run("Optimistic update", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		order := NewOrder(now)
		require.Nil(t, store.Create(ctx, &order))

		stale := order

		order.Observe(orders.Transaction{TxId: "tx1", Amount: 400, Confirmations: 1}, now)
		order.Recompute(1)
		_, _, err := order.Advance(now)
		require.Nil(t, err)
		err = store.Update(ctx, &order)
		require.Nil(t, err, "failed to update")
		assertions.Equal(uint64(2), order.Version)

		stale.Observe(orders.Transaction{TxId: "tx2", Amount: 1_000, Confirmations: 1}, now)
		err = store.Update(ctx, &stale)
		assertions.ErrorIs(err, storage.ErrConflict)
		assertions.Equal(uint64(1), stale.Version, "failed updates keep the version")

		order.Observe(orders.Transaction{TxId: "tx1", Amount: 400, Confirmations: 6}, now.Add(time.Minute))
		order.Observe(orders.Transaction{TxId: "tx2", Amount: 600, Confirmations: 1}, now.Add(time.Minute))
		order.Recompute(1)
		_, _, err = order.Advance(now)
		require.Nil(t, err)
		err = store.Update(ctx, &order)
		require.Nil(t, err)

		stored, err := store.Get(ctx, order.Id)
		require.Nil(t, err)
		assertions.Equal(orders.StatusPaid, stored.Status)
		assertions.Equal(uint64(1_000), stored.AmountPaid)
		if assertions.Len(stored.Transactions, 2) {
			assertions.Equal("tx1", stored.Transactions[0].TxId, "arrival order is kept")
			assertions.Equal(uint64(6), stored.Transactions[0].Confirmations)
			assertions.Equal("tx2", stored.Transactions[1].TxId)
		}

		missing := NewOrder(now)
		missing.Version = 1
		err = store.Update(ctx, &missing)
		assertions.ErrorIs(err, storage.ErrNotFound)
	})

	t.Run("Concurrent updates", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		order := NewOrder(now)
		order.AmountDue = 1_000_000
		require.Nil(t, store.Create(ctx, &order))

		const writers = 10
		var wg sync.WaitGroup
		for index := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					current, err := store.Get(ctx, order.Id)
					if !assert.Nil(t, err) {
						return
					}
					current.Observe(orders.Transaction{TxId: fmt.Sprintf("tx%d", index), Amount: 1, Confirmations: 1}, now)
					current.Recompute(1)
					err = store.Update(ctx, &current)
					if errors.Is(err, storage.ErrConflict) {
						continue
					}
					assert.Nil(t, err)
					return
				}
			}()
		}
		wg.Wait()

		stored, err := store.Get(ctx, order.Id)
		require.Nil(t, err)
		assertions.Len(stored.Transactions, writers, "no update may be lost")
		assertions.Equal(uint64(writers), stored.AmountPaid)
		assertions.Equal(uint64(writers+1), stored.Version)
	})

	t.Run("List", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		var created []orders.Order
		for index := range 5 {
			order := NewOrder(now.Add(time.Duration(index) * time.Second))
			require.Nil(t, store.Create(ctx, &order))
			created = append(created, order)
		}
		expired := created[1]
		require.Nil(t, expired.Expire(expired.ExpiresAt))
		require.Nil(t, store.Update(ctx, &expired))

		result, err := store.List(ctx, storage.ListRequest{Limit: 2})
		require.Nil(t, err)
		assertions.Equal(5, result.Total)
		if assertions.Len(result.Orders, 2) {
			assertions.Equal(created[4].Id, result.Orders[0].Id, "newest first")
			assertions.Equal(created[3].Id, result.Orders[1].Id)
		}

		result, err = store.List(ctx, storage.ListRequest{Limit: 2, Offset: 4})
		require.Nil(t, err)
		if assertions.Len(result.Orders, 1) {
			assertions.Equal(created[0].Id, result.Orders[0].Id)
		}

		status := orders.StatusExpired
		result, err = store.List(ctx, storage.ListRequest{Status: &status, Limit: 10})
		require.Nil(t, err)
		assertions.Equal(1, result.Total)
		if assertions.Len(result.Orders, 1) {
			assertions.Equal(expired.Id, result.Orders[0].Id)
		}

		result, err = store.List(ctx, storage.ListRequest{Limit: 10, Offset: 10})
		require.Nil(t, err)
		assertions.Equal(5, result.Total)
		assertions.Empty(result.Orders)
	})

	t.Run("Expirable", func(t *testing.T) {
		assertions := assert.New(t)
		store := open(t)

		now := time.Now()
		due := NewOrder(now.Add(-2 * time.Hour))
		require.Nil(t, store.Create(ctx, &due))

		live := NewOrder(now)
		require.Nil(t, store.Create(ctx, &live))

		paid := NewOrder(now.Add(-2 * time.Hour))
		require.Nil(t, store.Create(ctx, &paid))
		paid.Observe(orders.Transaction{TxId: "tx", Amount: paid.AmountDue, Confirmations: 1}, now)
		paid.Recompute(1)
		_, _, err := paid.Advance(now)
		require.Nil(t, err)
		require.Nil(t, store.Update(ctx, &paid))

		ids, err := store.Expirable(ctx, now, 100)
		require.Nil(t, err)
		assertions.Equal([]uuid.UUID{due.Id}, ids)

		ids, err = store.Expirable(ctx, live.ExpiresAt, 100)
		require.Nil(t, err)
		assertions.ElementsMatch([]uuid.UUID{due.Id, live.Id}, ids, "deadline is inclusive")

		ids, err = store.Expirable(ctx, live.ExpiresAt, 1)
		require.Nil(t, err)
		assertions.Len(ids, 1)
	})
}
