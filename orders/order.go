package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const FailureReasonCancelled = "cancelled"

type (
	Transaction struct {
		// Transaction id reported by the daemon
		TxId string
		// Amount received in atomic units
		Amount uint64
		// Highest confirmation count observed
		Confirmations uint64
		// First time the transaction was seen
		ObservedAt time.Time
		// Last time the confirmation count changed
		UpdatedAt time.Time
	}
	Order struct {
		// Identifier of the order
		Id uuid.UUID
		// Address where the customer sends the funds
		PaymentAddress string
		// Label used when requesting the address to the daemon
		Label string
		// Currency ticker
		Currency string
		// Amount expected in atomic units
		AmountDue uint64
		// Confirmed amount received in atomic units
		AmountPaid uint64
		// Status of the order
		Status        Status
		Description   string
		CustomerEmail string
		// Opaque caller payload. Never interpreted
		Metadata json.RawMessage
		// Creation time
		CreatedAt time.Time
		// Deadline for the payment
		ExpiresAt time.Time
		// Last mutation
		UpdatedAt time.Time
		// Time the order reached a terminal status
		FinalizedAt time.Time
		// Why the order failed
		FailureReason string
		// Observed payments, in arrival order
		Transactions []Transaction
		// Optimistic lock counter maintained by the storage
		Version uint64
	}
)

// Observe records a payment seen by the daemon. A known txid is only updated when
// its confirmation count or its amount grew. The amount grows when outputs of the
// transaction were missed on an earlier read
func (o *Order) Observe(tx Transaction, now time.Time) (changed bool) {
	for index := range o.Transactions {
		current := &o.Transactions[index]
		if current.TxId != tx.TxId {
			continue
		}
		if tx.Confirmations <= current.Confirmations && tx.Amount <= current.Amount {
			return false
		}
		current.Confirmations = max(current.Confirmations, tx.Confirmations)
		current.Amount = max(current.Amount, tx.Amount)
		current.UpdatedAt = now
		return true
	}

	if tx.ObservedAt.IsZero() {
		tx.ObservedAt = now
	}
	tx.UpdatedAt = now
	o.Transactions = append(o.Transactions, tx)
	return true
}

// Recompute sets AmountPaid to the sum of transactions with enough confirmations
func (o *Order) Recompute(minConfirmations uint64) {
	var paid uint64
	for _, tx := range o.Transactions {
		if tx.Confirmations >= minConfirmations {
			paid += tx.Amount
		}
	}
	o.AmountPaid = paid
}

func (o *Order) target() (status Status) {
	switch {
	case o.AmountPaid >= o.AmountDue:
		return StatusPaid
	case o.AmountPaid > 0:
		return StatusPartiallyPaid
	case o.Status == StatusPartiallyPaid:
		// Pending is never re-entered
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}

// Advance moves the order to the status implied by AmountPaid. Expiry is not evaluated here
func (o *Order) Advance(now time.Time) (from, to Status, err error) {
	from = o.Status
	if from.IsTerminal() {
		return from, from, fmt.Errorf("%w: order is %s", ErrInvalidTransition, from)
	}

	to = o.target()
	err = Transition(from, to)
	if err != nil {
		return from, from, err
	}

	if from == to {
		return from, to, nil
	}

	o.Status = to
	o.UpdatedAt = now
	if to.IsTerminal() {
		o.FinalizedAt = now
	}
	return from, to, nil
}

// Expire finalizes an unpaid order once its deadline was reached
func (o *Order) Expire(now time.Time) (err error) {
	err = Transition(o.Status, StatusExpired)
	if err != nil {
		return err
	}
	if now.Before(o.ExpiresAt) {
		return fmt.Errorf("%w: expires at %s", ErrNotExpired, o.ExpiresAt.Format(time.RFC3339))
	}

	o.Status = StatusExpired
	o.UpdatedAt = now
	o.FinalizedAt = now
	return nil
}

func (o *Order) Fail(reason string, now time.Time) (err error) {
	err = Transition(o.Status, StatusFailed)
	if err != nil {
		return err
	}

	o.Status = StatusFailed
	o.FailureReason = reason
	o.UpdatedAt = now
	o.FinalizedAt = now
	return nil
}

func (o *Order) Overpaid() (amount uint64) {
	if o.AmountPaid <= o.AmountDue {
		return 0
	}
	return o.AmountPaid - o.AmountDue
}

type orderAlias Order

// stored keeps Metadata as a string so the caller bytes survive unchanged
type stored struct {
	*orderAlias
	Metadata string
}

func (o *Order) Bytes() (bytes []byte) {
	bytes, _ = json.Marshal(stored{orderAlias: (*orderAlias)(o), Metadata: string(o.Metadata)})
	return bytes
}

func (o *Order) FromBytes(b []byte) (err error) {
	record := stored{orderAlias: (*orderAlias)(o)}
	err = json.Unmarshal(b, &record)
	if err != nil {
		return err
	}
	o.Metadata = nil
	if record.Metadata != "" {
		o.Metadata = json.RawMessage(record.Metadata)
	}
	return nil
}
