package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/wallets"
	"github.com/google/uuid"
)

const FailureReasonAllocation = "address allocation failed"

type Receive struct {
	// Amount due in atomic units
	Amount uint64 `validate:"required"`
	// Empty means the currency of the gateway
	Currency      string `validate:"omitempty,alphanum,max=16"`
	Description   string `validate:"max=1024"`
	CustomerEmail string `validate:"omitempty,email,max=254"`
	// Must be a JSON object when present
	Metadata json.RawMessage
}

func (c *Controller) validateReceive(r *Receive) (err error) {
	err = c.validate.Struct(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.Amount > decimal.MaxAtomic {
		return fmt.Errorf("%w: amount should be less or equal than: %d", ErrInvalidRequest, uint64(decimal.MaxAtomic))
	}
	if r.Amount < c.minAmount {
		return fmt.Errorf("%w: amount should be greater or equal than: %d", ErrInvalidRequest, c.minAmount)
	}
	if c.maxAmount > 0 && r.Amount > c.maxAmount {
		return fmt.Errorf("%w: amount should be less or equal than: %d", ErrInvalidRequest, c.maxAmount)
	}
	if r.Currency != "" && !strings.EqualFold(r.Currency, c.currency) {
		return fmt.Errorf("%w: unsupported currency: %s", ErrInvalidRequest, r.Currency)
	}
	if len(r.Metadata) > 0 {
		trimmed := bytes.TrimSpace(r.Metadata)
		if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
			return fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidRequest)
		}
	}
	return nil
}

// allocate requests a fresh address labeled for the order and checks the
// daemon considers it valid and owned by the wallet
func (c *Controller) allocate(ctx context.Context, label string) (address string, err error) {
	ctx, cancel := c.rpcContext(ctx, false)
	defer cancel()

	created, err := c.wallet.NewAddress(ctx, wallets.NewAddressRequest{Label: label})
	if err != nil {
		c.rpcFailed("getnewaddress", err)
		return "", fmt.Errorf("failed to create address: %w", err)
	}

	valid, err := c.wallet.ValidateAddress(ctx, wallets.ValidateAddressRequest{Address: created.Address})
	if err != nil {
		c.rpcFailed("validateaddress", err)
		c.relabel(ctx, created.Address, "")
		return "", fmt.Errorf("failed to validate address: %w", err)
	}
	if !valid.Valid || !valid.Mine {
		if valid.Valid {
			c.relabel(ctx, created.Address, "")
		}
		return "", fmt.Errorf("%w: %s valid=%t mine=%t", wallets.ErrInvalidAddress, created.Address, valid.Valid, valid.Mine)
	}
	return created.Address, nil
}

// relabel points the label of address back to label. Failures are only logged
func (c *Controller) relabel(ctx context.Context, address, label string) {
	ctx, cancel := c.rpcContext(ctx, true)
	defer cancel()

	err := c.wallet.SetLabel(ctx, wallets.SetLabelRequest{Address: address, Label: label})
	if err != nil {
		c.rpcFailed("setlabel", err)
		c.logger.Error().
			Err(err).
			Str("address", address).
			Str("label", label).
			Msg("failed to restore address label")
	}
}

func (c *Controller) addressConflict(ctx context.Context, order *orders.Order, owner *orders.Order) (err error) {
	c.metrics.AddressConflicts.Inc()
	event := c.logger.Error().
		Str("order_id", order.Id.String()).
		Str("address", order.PaymentAddress)
	if owner != nil {
		event = event.Str("owner_id", owner.Id.String())
		c.relabel(ctx, order.PaymentAddress, owner.Label)
	}
	event.Msg("daemon reused an address bound to an open order")
	return fmt.Errorf("%w: %s", ErrAddressConflict, order.PaymentAddress)
}

// Receive creates an order and binds it to a fresh daemon address. No lock is
// held while the daemon is called. Allocation failures are persisted as failed
// orders for audit
func (c *Controller) Receive(ctx context.Context, req *Receive) (order orders.Order, err error) {
	err = c.validateReceive(req)
	if err != nil {
		return order, err
	}

	now := c.now()
	order = orders.Order{
		Id:            uuid.New(),
		Currency:      c.currency,
		AmountDue:     req.Amount,
		Status:        orders.StatusPending,
		Description:   req.Description,
		CustomerEmail: req.CustomerEmail,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		ExpiresAt:     now.Add(c.timeout),
		UpdatedAt:     now,
	}
	order.Label = Label(order.Id)

	logger := c.logger.With().Str("order_id", order.Id.String()).Logger()

	address, err := c.allocate(ctx, order.Label)
	if err != nil {
		allocErr := err
		logger.Error().Err(allocErr).Msg("failed to allocate address")

		err = order.Fail(FailureReasonAllocation, c.now())
		if err == nil {
			auditCtx, cancel := c.rpcContext(ctx, true)
			err = c.store.Create(auditCtx, &order)
			cancel()
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to persist failed order")
		} else {
			c.transitioned(&order, orders.StatusPending, orders.StatusFailed)
		}
		return order, fmt.Errorf("%w: %w", ErrExternalService, allocErr)
	}
	order.PaymentAddress = address

	owner, err := c.store.ByAddress(ctx, address)
	switch {
	case err == nil:
		return order, c.addressConflict(ctx, &order, &owner)
	case !errors.Is(err, storage.ErrNotFound):
		c.relabel(ctx, address, "")
		return order, fmt.Errorf("failed to check address binding: %w", err)
	}

	err = c.store.Create(ctx, &order)
	if err != nil {
		if errors.Is(err, storage.ErrAddressConflict) {
			owner, ownerErr := c.store.ByAddress(ctx, address)
			if ownerErr != nil {
				logger.Error().Err(ownerErr).Str("address", address).Msg("failed to find address owner")
				return order, c.addressConflict(ctx, &order, nil)
			}
			return order, c.addressConflict(ctx, &order, &owner)
		}
		c.relabel(ctx, address, "")
		return order, fmt.Errorf("failed to persist order: %w", err)
	}

	c.metrics.OrdersCreated.Inc()
	logger.Info().
		Str("address", address).
		Uint64("amount_due", order.AmountDue).
		Time("expires_at", order.ExpiresAt).
		Msg("order created")
	return order, nil
}
