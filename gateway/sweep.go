package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/utils"
	"github.com/google/uuid"
)

func (c *Controller) expire(ctx context.Context, id uuid.UUID) (expired bool, err error) {
	var from orders.Status
	order, changed, err := c.mutate(ctx, id, func(order *orders.Order) (changed bool, err error) {
		// A payment processed before the lock may have finalized the order
		if order.Status.IsTerminal() {
			return false, nil
		}
		from = order.Status
		err = order.Expire(c.now())
		if errors.Is(err, orders.ErrNotExpired) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		c.transitioned(&order, from, order.Status)
	}
	return changed, nil
}

// Sweep expires the open orders whose deadline passed
func (c *Controller) Sweep(ctx context.Context) (expired uint64, err error) {
	ids, err := c.store.Expirable(ctx, c.now(), 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable orders: %w", err)
	}

	var (
		count  atomic.Uint64
		errsMu sync.Mutex
		errs   []error
		jobs   = utils.NewJobPool(min(MaxConcurrentJobs, max(len(ids), 1)))
		wg     sync.WaitGroup
	)
	for _, id := range ids {
		jobs.Get()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer jobs.Put()

			done, err := c.expire(ctx, id)
			if err != nil {
				c.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to expire order")
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
				return
			}
			if done {
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return count.Load(), fmt.Errorf("failed to expire %d orders: %w", len(errs), errors.Join(errs...))
	}
	return count.Load(), nil
}
