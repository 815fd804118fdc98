package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/utils"
	"github.com/RogueTeam/8ball/wallets"
)

type cachedEvent struct {
	confirmations uint64
	unmatched     bool
	at            time.Time
}

// eventCache remembers the events of the previous poll window that need no
// further work, so finalized orders are not re-evaluated on every tick.
// Unmatched events are retried once recheck elapsed since they were applied
type eventCache struct {
	mu       sync.Mutex
	recheck  time.Duration
	previous map[string]cachedEvent
	current  map[string]cachedEvent
}

func newEventCache(recheck time.Duration) (e *eventCache) {
	return &eventCache{
		recheck:  recheck,
		previous: make(map[string]cachedEvent),
		current:  make(map[string]cachedEvent),
	}
}

func eventKey(event *PaymentEvent) (key string) {
	return event.Address + "/" + event.TxId
}

func (e *eventCache) Skip(event *PaymentEvent, now time.Time) (skip bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := eventKey(event)
	cached, found := e.previous[key]
	switch {
	case !found:
		return false
	case cached.unmatched && now.Sub(cached.at) >= e.recheck:
		return false
	case !cached.unmatched && cached.confirmations != event.Confirmations:
		return false
	}
	e.current[key] = cached
	return true
}

func (e *eventCache) Remember(event *PaymentEvent, outcome Outcome, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current[eventKey(event)] = cachedEvent{
		confirmations: event.Confirmations,
		unmatched:     outcome == OutcomeUnmatched,
		at:            now,
	}
}

func (e *eventCache) Rotate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.previous = e.current
	e.current = make(map[string]cachedEvent, len(e.previous))
}

// fetchTransactions reads the latest poll window, oldest first. Paging stops
// at the first empty page
func (c *Controller) fetchTransactions(ctx context.Context) (txs []wallets.Transaction, err error) {
	var pages [][]wallets.Transaction
	for page := range c.pollPages {
		rpcCtx, cancel := c.rpcContext(ctx, false)
		entries, err := c.wallet.Transactions(rpcCtx, wallets.TransactionsRequest{
			Count: c.pollCount,
			Skip:  uint64(page) * c.pollCount,
		})
		cancel()
		if err != nil {
			c.rpcFailed("listtransactions", err)
			return nil, fmt.Errorf("%w: failed to list transactions: %w", ErrExternalService, err)
		}
		if len(entries) == 0 {
			break
		}
		pages = append(pages, entries)
	}

	for index := len(pages) - 1; index >= 0; index-- {
		txs = append(txs, pages[index]...)
	}
	return txs, nil
}

type addressEvents struct {
	address string
	events  []PaymentEvent
}

// groupByAddress converts receive entries to events keeping arrival order per
// address. Outputs of one transaction to the same address are merged
func groupByAddress(txs []wallets.Transaction) (groups []*addressEvents) {
	byAddress := make(map[string]*addressEvents)
	for _, tx := range txs {
		if tx.Category != wallets.CategoryReceive || tx.Address == "" || tx.Amount == 0 {
			continue
		}

		group, found := byAddress[tx.Address]
		if !found {
			group = &addressEvents{address: tx.Address}
			byAddress[tx.Address] = group
			groups = append(groups, group)
		}

		merged := false
		for index := range group.events {
			event := &group.events[index]
			if event.TxId == tx.TxId {
				event.Amount += tx.Amount
				event.Confirmations = max(event.Confirmations, tx.Confirmations)
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		group.events = append(group.events, PaymentEvent{
			Address:       tx.Address,
			TxId:          tx.TxId,
			Amount:        tx.Amount,
			Confirmations: tx.Confirmations,
			Timestamp:     tx.Time,
		})
	}
	return groups
}

// openOrders collects every non terminal order
func (c *Controller) openOrders(ctx context.Context) (open []orders.Order, err error) {
	for _, status := range []orders.Status{orders.StatusPending, orders.StatusPartiallyPaid} {
		for offset := 0; ; offset += storage.MaxLimit {
			result, err := c.store.List(ctx, storage.ListRequest{Status: &status, Limit: storage.MaxLimit, Offset: offset})
			if err != nil {
				return nil, fmt.Errorf("failed to list %s orders: %w", status, err)
			}
			open = append(open, result.Orders...)
			if len(result.Orders) < storage.MaxLimit {
				break
			}
		}
	}
	return open, nil
}

// stalled returns the events of the recorded transactions of order still
// below the confirmation threshold and no longer visible in the poll window
func (c *Controller) stalled(ctx context.Context, order *orders.Order, window map[string]struct{}) (events []PaymentEvent, err error) {
	for _, recorded := range order.Transactions {
		if recorded.Confirmations >= c.minConfirmations {
			continue
		}
		event := PaymentEvent{Address: order.PaymentAddress, TxId: recorded.TxId}
		if _, found := window[eventKey(&event)]; found {
			continue
		}

		rpcCtx, cancel := c.rpcContext(ctx, false)
		tx, err := c.wallet.Transaction(rpcCtx, wallets.TransactionRequest{TxId: recorded.TxId, Address: order.PaymentAddress})
		cancel()
		if errors.Is(err, wallets.ErrTransactionNotFound) {
			c.logger.Warn().
				Str("order_id", order.Id.String()).
				Str("txid", recorded.TxId).
				Msg("recorded transaction unknown to the daemon")
			continue
		}
		if err != nil {
			c.rpcFailed("gettransaction", err)
			return events, fmt.Errorf("%w: failed to get transaction: %w", ErrExternalService, err)
		}
		if tx.Amount == 0 {
			continue
		}

		event.Amount = tx.Amount
		event.Confirmations = tx.Confirmations
		event.Timestamp = tx.Time
		events = append(events, event)
	}
	return events, nil
}

// refresh re-reads the unconfirmed payments that scrolled out of the poll
// window so they still reach the confirmation threshold
func (c *Controller) refresh(ctx context.Context, window map[string]struct{}) (events uint64, err error) {
	if c.minConfirmations == 0 {
		return 0, nil
	}
	open, err := c.openOrders(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	for index := range open {
		order := &open[index]
		stalled, err := c.stalled(ctx, order, window)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, event := range stalled {
			_, err = c.Apply(ctx, event)
			if err != nil {
				c.logger.Error().
					Err(err).
					Str("order_id", order.Id.String()).
					Str("txid", event.TxId).
					Msg("failed to apply refreshed payment")
				errs = append(errs, err)
				break
			}
			events++
		}
	}
	if len(errs) > 0 {
		return events, fmt.Errorf("failed to refresh %d orders: %w", len(errs), errors.Join(errs...))
	}
	return events, nil
}

// Poll reads the recent wallet transactions and applies them. Addresses are
// processed concurrently, the events of one address sequentially. Recorded
// payments that left the window are then re-read one by one
func (c *Controller) Poll(ctx context.Context) (events uint64, err error) {
	txs, err := c.fetchTransactions(ctx)
	if err != nil {
		return 0, err
	}
	groups := groupByAddress(txs)
	window := make(map[string]struct{}, len(txs))
	for _, group := range groups {
		for index := range group.events {
			window[eventKey(&group.events[index])] = struct{}{}
		}
	}

	var (
		applied atomic.Uint64
		errsMu  sync.Mutex
		errs    []error
		jobs    = utils.NewJobPool(min(MaxConcurrentJobs, max(len(groups), 1)))
		wg      sync.WaitGroup
	)
	for _, group := range groups {
		jobs.Get()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer jobs.Put()

			for _, event := range group.events {
				if c.seen.Skip(&event, c.now()) {
					continue
				}
				result, err := c.Apply(ctx, event)
				if err != nil {
					// The remaining events of the address wait for the next poll
					c.logger.Error().
						Err(err).
						Str("address", event.Address).
						Str("txid", event.TxId).
						Msg("failed to apply payment event")
					errsMu.Lock()
					errs = append(errs, err)
					errsMu.Unlock()
					return
				}
				applied.Add(1)
				c.seen.Remember(&event, result.Outcome, c.now())
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return applied.Load(), fmt.Errorf("failed to apply %d address groups: %w", len(errs), errors.Join(errs...))
	}
	c.seen.Rotate()

	refreshed, err := c.refresh(ctx, window)
	return applied.Load() + refreshed, err
}
