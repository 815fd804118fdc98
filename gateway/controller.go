package gateway

import (
	"errors"
	"time"

	"github.com/RogueTeam/8ball/metrics"
	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/wallets"
	"github.com/go-playground/validator/v10"
	"github.com/moby/locker"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	// Daemon unreachable, stalled or answering with an error
	ErrExternalService = errors.New("external service failure")
	// The daemon handed out an address bound to another open order
	ErrAddressConflict   = storage.ErrAddressConflict
	ErrInvalidTransition = orders.ErrInvalidTransition
	ErrNotFound          = storage.ErrNotFound
	// Optimistic update kept conflicting after every retry
	ErrPersistenceConflict = errors.New("persistence conflict")
)

const (
	DefaultTimeout    = 30 * time.Minute
	DefaultRPCTimeout = 10 * time.Second
	DefaultMaxRetries = 5
	DefaultPollCount  = 100
	DefaultPollPages  = 10
	// Unmatched events are re-applied after this long in case their order showed up
	DefaultUnmatchedRecheck = time.Minute
	MaxConcurrentJobs       = 1_000
)

type Controller struct {
	store            storage.Store
	wallet           wallets.Wallet
	currency         string
	timeout          time.Duration
	rpcTimeout       time.Duration
	minAmount        uint64
	maxAmount        uint64
	minConfirmations uint64
	maxRetries       int
	pollCount        uint64
	pollPages        int
	unmatchedRecheck time.Duration
	poll             bool
	logger           *zerolog.Logger
	metrics          *metrics.Metrics
	now              func() time.Time
	locks            *locker.Locker
	validate         *validator.Validate
	seen             *eventCache
}

type Config struct {
	// Where orders are persisted
	Store storage.Store
	// Daemon used for addresses and payments
	Wallet wallets.Wallet
	// Ticker of the coin handled by the wallet
	Currency string
	// Lifetime of new orders
	Timeout time.Duration
	// Deadline of every daemon call
	RPCTimeout time.Duration
	// Accepted amount due in atomic units. Zero MaxAmount means unbounded
	MinAmount uint64
	MaxAmount uint64
	// Confirmations required before a transaction counts as paid
	MinConfirmations uint64
	// Attempts after an optimistic update conflict
	MaxRetries int
	// listtransactions page size and pages read per poll
	PollCount uint64
	PollPages int
	// How long an unmatched event is skipped by the poller
	UnmatchedRecheck time.Duration
	// Payments are pushed by another source and Process only sweeps
	DisablePoll bool
	Logger      *zerolog.Logger
	Metrics     *metrics.Metrics
	// Clock. Defaults to time.Now
	Now func() time.Time
}

func New(config Config) (ctrl *Controller) {
	ctrl = &Controller{
		store:            config.Store,
		wallet:           config.Wallet,
		currency:         config.Currency,
		timeout:          config.Timeout,
		rpcTimeout:       config.RPCTimeout,
		minAmount:        config.MinAmount,
		maxAmount:        config.MaxAmount,
		minConfirmations: config.MinConfirmations,
		maxRetries:       config.MaxRetries,
		pollCount:        config.PollCount,
		pollPages:        config.PollPages,
		unmatchedRecheck: config.UnmatchedRecheck,
		poll:             !config.DisablePoll,
		logger:           config.Logger,
		metrics:          config.Metrics,
		now:              config.Now,
		locks:            locker.New(),
		validate:         validator.New(),
	}
	if ctrl.timeout <= 0 {
		ctrl.timeout = DefaultTimeout
	}
	if ctrl.rpcTimeout <= 0 {
		ctrl.rpcTimeout = DefaultRPCTimeout
	}
	if ctrl.maxRetries <= 0 {
		ctrl.maxRetries = DefaultMaxRetries
	}
	if ctrl.pollCount == 0 {
		ctrl.pollCount = DefaultPollCount
	}
	if ctrl.pollPages <= 0 {
		ctrl.pollPages = DefaultPollPages
	}
	if ctrl.unmatchedRecheck <= 0 {
		ctrl.unmatchedRecheck = DefaultUnmatchedRecheck
	}
	ctrl.seen = newEventCache(ctrl.unmatchedRecheck)
	if ctrl.logger == nil {
		nop := zerolog.Nop()
		ctrl.logger = &nop
	}
	if ctrl.metrics == nil {
		ctrl.metrics = metrics.New()
	}
	if ctrl.now == nil {
		ctrl.now = time.Now
	}
	return ctrl
}

func (c *Controller) Metrics() (m *metrics.Metrics) {
	return c.metrics
}
