package badgerdb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ordersPrefix  = []byte("/orders/")
	pendingPrefix = []byte("/pending/")
)

func OrderKey(id uuid.UUID) (key []byte) {
	return []byte(fmt.Sprintf("/orders/%s", id))
}

// PendingKey indexes open orders. The value holds the deadline
func PendingKey(id uuid.UUID) (key []byte) {
	return []byte(fmt.Sprintf("/pending/%s", id))
}

// AddressKey binds an address to its open order
func AddressKey(address string) (key []byte) {
	return []byte(fmt.Sprintf("/addresses/%s", address))
}

func encodeTime(t time.Time) (b []byte) {
	b = make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

func decodeTime(b []byte) (t time.Time, err error) {
	if len(b) != 8 {
		return t, fmt.Errorf("invalid time length: %d", len(b))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b))), nil
}
