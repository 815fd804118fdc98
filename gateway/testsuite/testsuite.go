package testsuite

import (
	_ "embed"
	"sync"
	"testing"
	"time"

	"github.com/RogueTeam/8ball/gateway"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage/badgerdb"
	"github.com/RogueTeam/8ball/utils"
	"github.com/RogueTeam/8ball/wallets"
	wallettests "github.com/RogueTeam/8ball/wallets/testsuite"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

//go:embed tests/lifecycle.yaml
var lifecycleTests []byte

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) (c *Clock) {
	return &Clock{now: now}
}

func (c *Clock) Now() (now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Test drives whole order lifecycles against wallet. gen plays the customers
// and the miners
func Test(t *testing.T, wallet wallets.Wallet, gen wallettests.DataGenerator) {
	type Payment struct {
		Amount        uint64 `yaml:"amount"`
		Confirmations uint64 `yaml:"confirmations"`
	}
	type Expect struct {
		Status   orders.Status `yaml:"status"`
		Paid     uint64        `yaml:"paid"`
		Overpaid uint64        `yaml:"overpaid"`
	}
	type Test struct {
		Name             string    `yaml:"name"`
		Due              uint64    `yaml:"due"`
		MinConfirmations uint64    `yaml:"min-confirmations"`
		Expire           bool      `yaml:"expire"`
		PayLate          bool      `yaml:"pay-late"`
		Payments         []Payment `yaml:"payments"`
		Expect           Expect    `yaml:"expect"`
	}

	var tests []Test
	err := yaml.Unmarshal(lifecycleTests, &tests)
	assert.Nil(t, err, "failed to load tests")

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assertions := assert.New(t)

			ctx, cancel := utils.NewContextWithTimeout(time.Minute)
			defer cancel()

			store, err := badgerdb.Open(badgerdb.Config{InMemory: true})
			if !assertions.Nil(err, "failed to open database") {
				return
			}
			defer store.Close()

			const timeout = time.Hour
			clock := NewClock(time.Now())
			ctrl := gateway.New(gateway.Config{
				Store:            store,
				Wallet:           wallet,
				Currency:         "PEPE",
				Timeout:          timeout,
				MinConfirmations: test.MinConfirmations,
				Now:              clock.Now,
			})

			order, err := ctrl.Receive(ctx, &gateway.Receive{Amount: test.Due})
			if !assertions.Nil(err, "failed to create order") {
				return
			}
			assertions.Equal(orders.StatusPending, order.Status)
			assertions.NotEmpty(order.PaymentAddress)

			pay := func() {
				for _, payment := range test.Payments {
					txId := gen.Fund(t, order.PaymentAddress, payment.Amount)
					gen.Confirm(t, txId, payment.Confirmations)
				}
			}

			if !test.PayLate {
				pay()
				_, err = ctrl.Process(ctx)
				assertions.Nil(err, "failed to process")
			}
			if test.Expire {
				clock.Advance(timeout + time.Second)
			}
			if test.PayLate {
				pay()
			}

			_, err = ctrl.Process(ctx)
			assertions.Nil(err, "failed to process")

			latest, err := ctrl.Query(ctx, order.Id)
			if !assertions.Nil(err, "failed to query order") {
				return
			}
			assertions.Equal(test.Expect.Status, latest.Status, "invalid status")
			assertions.Equal(test.Expect.Paid, latest.AmountPaid, "invalid paid amount")
			assertions.Equal(test.Expect.Overpaid, latest.Overpaid(), "invalid overpaid amount")
			assertions.Len(latest.Transactions, len(test.Payments))
			if latest.Status.IsTerminal() {
				assertions.False(latest.FinalizedAt.IsZero(), "terminal orders record when they finalized")
			}

			// Replaying the window changes nothing
			_, err = ctrl.Process(ctx)
			assertions.Nil(err, "failed to process")
			replayed, err := ctrl.Query(ctx, order.Id)
			assertions.Nil(err, "failed to query order")
			assertions.Equal(latest.AmountPaid, replayed.AmountPaid)
			assertions.Equal(latest.Status, replayed.Status)
		})
	}
}
