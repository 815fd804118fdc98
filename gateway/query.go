package gateway

import (
	"context"
	"fmt"

	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/utils"
	"github.com/google/uuid"
)

func (c *Controller) Query(ctx context.Context, id uuid.UUID) (order orders.Order, err error) {
	order, err = c.store.Get(ctx, id)
	if err != nil {
		return order, fmt.Errorf("failed to retrieve order: %w", err)
	}
	return order, nil
}

// List returns orders newest first. A non positive limit means the default
// page size and larger limits are capped
func (c *Controller) List(ctx context.Context, req storage.ListRequest) (result storage.ListResult, err error) {
	if req.Status != nil {
		err = req.Status.Validate()
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if req.Offset < 0 {
		return result, fmt.Errorf("%w: negative offset", ErrInvalidRequest)
	}
	if req.Limit <= 0 {
		req.Limit = storage.DefaultLimit
	}
	req.Limit = utils.Clamp(req.Limit, 1, storage.MaxLimit)

	result, err = c.store.List(ctx, req)
	if err != nil {
		return result, fmt.Errorf("failed to list orders: %w", err)
	}
	return result, nil
}

// Cancel fails an open order on operator request
func (c *Controller) Cancel(ctx context.Context, id uuid.UUID) (order orders.Order, err error) {
	var from orders.Status
	order, _, err = c.mutate(ctx, id, func(order *orders.Order) (changed bool, err error) {
		from = order.Status
		err = order.Fail(orders.FailureReasonCancelled, c.now())
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return order, fmt.Errorf("failed to cancel order: %w", err)
	}
	c.transitioned(&order, from, order.Status)
	return order, nil
}

// Health reports the confirmed balance of the wallet
func (c *Controller) Health(ctx context.Context) (balance uint64, err error) {
	ctx, cancel := c.rpcContext(ctx, false)
	defer cancel()

	balance, err = c.wallet.Balance(ctx)
	if err != nil {
		c.rpcFailed("getbalance", err)
		return 0, fmt.Errorf("%w: %w", ErrExternalService, err)
	}
	return balance, nil
}
