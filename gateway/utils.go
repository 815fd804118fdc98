package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/utils"
	"github.com/google/uuid"
)

// Label attached to the address of an order
func Label(id uuid.UUID) (label string) {
	return "order:" + id.String()
}

// Mutator changes order in place and reports whether it must be written back
type Mutator func(order *orders.Order) (changed bool, err error)

// mutate serializes on the order lock and runs fn over the latest stored
// order, retrying the write when another writer bumped the version first
func (c *Controller) mutate(ctx context.Context, id uuid.UUID, fn Mutator) (order orders.Order, changed bool, err error) {
	c.locks.Lock(id.String())
	defer c.locks.Unlock(id.String())

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		order, err = c.store.Get(ctx, id)
		if err != nil {
			return order, false, fmt.Errorf("failed to retrieve order: %w", err)
		}

		changed, err = fn(&order)
		if err != nil || !changed {
			return order, false, err
		}

		err = c.store.Update(ctx, &order)
		if err == nil {
			return order, true, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return order, false, fmt.Errorf("failed to update order: %w", err)
		}
		c.logger.Debug().
			Str("order_id", id.String()).
			Int("attempt", attempt+1).
			Msg("retrying conflicting update")
	}
	return order, false, fmt.Errorf("%w: order %s after %d attempts", ErrPersistenceConflict, id, c.maxRetries+1)
}

// rpcContext bounds a daemon call. Detached calls survive the caller's
// cancellation, used by compensating and audit writes
func (c *Controller) rpcContext(ctx context.Context, detached bool) (rpcCtx context.Context, cancel func()) {
	if detached {
		ctx = context.WithoutCancel(ctx)
	}
	return utils.WithTimeout(ctx, c.rpcTimeout)
}

func (c *Controller) rpcFailed(method string, err error) {
	c.metrics.RPCErrors.WithLabelValues(method).Inc()
	c.logger.Error().Err(err).Str("method", method).Msg("daemon call failed")
}

func (c *Controller) transitioned(order *orders.Order, from, to orders.Status) {
	if from == to {
		return
	}
	c.metrics.Transitions.WithLabelValues(string(to)).Inc()
	c.logger.Info().
		Str("order_id", order.Id.String()).
		Str("from", string(from)).
		Str("status", string(to)).
		Uint64("amount_paid", order.AmountPaid).
		Msg("order transitioned")
}
