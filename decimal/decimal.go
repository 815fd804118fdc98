package decimal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Coin amounts use 8 decimal places
const Places = 8

// MaxAtomic is the largest amount every storage backend can hold
const MaxAtomic = math.MaxInt64

var (
	ErrNegative  = errors.New("negative amount")
	ErrPrecision = errors.New("too many decimal places")
	ErrOverflow  = errors.New("amount too large")
)

type Decimal struct {
	Value decimal.Decimal
}

func (d *Decimal) FromUint64(v uint64) {
	d.Value = decimal.NewFromBigInt(new(big.Int).SetUint64(v), -Places)
}

func (d *Decimal) ToUint64() (v uint64) {
	return d.Value.Shift(Places).Truncate(0).BigInt().Uint64()
}

// Atomic converts the amount to atomic units rejecting negative values,
// amounts above MaxAtomic and amounts more precise than the coin supports
func (d *Decimal) Atomic() (v uint64, err error) {
	if d.Value.IsNegative() {
		return 0, ErrNegative
	}
	shifted := d.Value.Shift(Places)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: max %d", ErrPrecision, Places)
	}
	atomic := shifted.BigInt()
	if !atomic.IsUint64() || atomic.Uint64() > MaxAtomic {
		return 0, fmt.Errorf("%w: max %d atomic units", ErrOverflow, uint64(MaxAtomic))
	}
	return atomic.Uint64(), nil
}

func (d *Decimal) FromString(s string) (err error) {
	d.Value, err = decimal.NewFromString(s)
	if err != nil {
		return err
	}
	return nil
}

func (d Decimal) String() (s string) {
	return d.Value.StringFixed(Places)
}

var (
	_ json.Unmarshaler = (*Decimal)(nil)
	_ json.Marshaler   = (*Decimal)(nil)
)

// UnmarshalJSON accepts both quoted and bare numbers
func (d *Decimal) UnmarshalJSON(b []byte) (err error) {
	return d.Value.UnmarshalJSON(b)
}

func (d Decimal) MarshalJSON() (b []byte, err error) {
	return []byte("\"" + d.String() + "\""), nil
}

func (d *Decimal) UnmarshalYAML(unmarshal func(any) error) (err error) {
	var asString string
	err = unmarshal(&asString)
	if err != nil {
		return err
	}
	return d.FromString(asString)
}
