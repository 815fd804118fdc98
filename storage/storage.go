// Package storage defines how orders are persisted. Backends live in the
// sub packages and are selected by name at startup.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RogueTeam/8ball/orders"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("order not found")
	// A non terminal order already owns the payment address
	ErrAddressConflict = errors.New("address bound to another open order")
	// The stored version changed since the order was read
	ErrConflict = errors.New("concurrent order update")
)

type Driver string

const (
	DriverBadger   Driver = "badger"
	DriverSqlite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type (
	ListRequest struct {
		// Only return orders with this status
		Status *orders.Status
		Limit  int
		Offset int
	}
	ListResult struct {
		Orders []orders.Order
		// Orders matching the filter, ignoring pagination
		Total int
	}
)

type Store interface {
	// Persist a new order. Fails with ErrAddressConflict when another open order owns the address
	Create(ctx context.Context, order *orders.Order) (err error)

	// Retrieve an order by id
	Get(ctx context.Context, id uuid.UUID) (order orders.Order, err error)

	// Retrieve the open order bound to address
	ByAddress(ctx context.Context, address string) (order orders.Order, err error)

	// List orders newest first
	List(ctx context.Context, req ListRequest) (result ListResult, err error)

	// Compare and swap on order.Version. On success order.Version is incremented
	Update(ctx context.Context, order *orders.Order) (err error)

	// Ids of open orders whose deadline is at or before now
	Expirable(ctx context.Context, now time.Time, limit int) (ids []uuid.UUID, err error)

	Close() (err error)
}
