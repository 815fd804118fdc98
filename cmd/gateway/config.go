package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/RogueTeam/8ball/decimal"
	"github.com/RogueTeam/8ball/gateway"
	"github.com/RogueTeam/8ball/ingest"
	"github.com/RogueTeam/8ball/internal/walletrpc/rpc"
	"github.com/RogueTeam/8ball/metrics"
	"github.com/RogueTeam/8ball/storage"
	"github.com/RogueTeam/8ball/storage/badgerdb"
	"github.com/RogueTeam/8ball/storage/sqldb"
	"github.com/RogueTeam/8ball/wallets"
	"github.com/RogueTeam/8ball/wallets/mock"
	"github.com/RogueTeam/8ball/wallets/pepecoin"
	"github.com/gabstv/httpdigest"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "GATEWAY_"

var ErrInvalidConfig = errors.New("invalid configuration")

// Yaml configuration reference
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Storage struct {
		Driver storage.Driver `yaml:"driver"`
		// badger directory
		Path string `yaml:"path"`
		// sqlite or postgres data source
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max-open-conns"`
		Migrate      bool   `yaml:"migrate"`
	}
	WalletRPC struct {
		Type string `yaml:"type"`
		Url  string `yaml:"url"`
		// none, basic or digest
		Auth      string        `yaml:"auth"`
		Username  string        `yaml:"username,omitempty"`
		Password  string        `yaml:"password,omitempty"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate-limit"`
		Burst     int           `yaml:"burst"`
		PollCount uint64        `yaml:"poll-count"`
		PollPages int           `yaml:"poll-pages"`
	}
	AMQP struct {
		Url        string `yaml:"url"`
		Exchange   string `yaml:"exchange"`
		Queue      string `yaml:"queue"`
		RoutingKey string `yaml:"routing-key"`
		Prefetch   int    `yaml:"prefetch"`
	}
	Ingest struct {
		// poll or amqp
		Source string `yaml:"source"`
		AMQP   AMQP   `yaml:"amqp"`
	}
	Config struct {
		ListenAddress    string          `yaml:"listen-address"`
		ProcessInterval  time.Duration   `yaml:"process-interval"`
		ApiKey           string          `yaml:"api-key"`
		Metrics          bool            `yaml:"metrics"`
		Currency         string          `yaml:"currency"`
		Timeout          time.Duration   `yaml:"order-timeout"`
		MinAmount        decimal.Decimal `yaml:"min-amount"`
		MaxAmount        decimal.Decimal `yaml:"max-amount"`
		MinConfirmations uint64          `yaml:"min-confirmations"`
		MaxRetries       int             `yaml:"max-retries"`
		Log              Log             `yaml:"log"`
		Storage          Storage         `yaml:"storage"`
		Wallet           WalletRPC       `yaml:"wallet"`
		Ingest           Ingest          `yaml:"ingest"`
	}
)

func DefaultConfig() (config Config) {
	return Config{
		ListenAddress:    ":8080",
		ProcessInterval:  30 * time.Second,
		Metrics:          true,
		Currency:         "PEPE",
		Timeout:          gateway.DefaultTimeout,
		MinConfirmations: 1,
		MaxRetries:       gateway.DefaultMaxRetries,
		Log:              Log{Level: "info", Format: "json"},
		Storage:          Storage{Driver: storage.DriverBadger, Path: "./data", Migrate: true},
		Wallet: WalletRPC{
			Type:      "pepecoin",
			Url:       "http://127.0.0.1:33873",
			Auth:      "basic",
			Timeout:   gateway.DefaultRPCTimeout,
			PollCount: gateway.DefaultPollCount,
			PollPages: gateway.DefaultPollPages,
		},
		Ingest: Ingest{Source: "poll"},
	}
}

// Load reads the YAML document over the defaults and applies the environment
func Load(r io.Reader) (config Config, err error) {
	config = DefaultConfig()
	err = yaml.NewDecoder(r).Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	config.ApplyEnv(os.LookupEnv)
	return config, config.Validate()
}

// ApplyEnv overrides secrets and endpoints with GATEWAY_* variables
func (c *Config) ApplyEnv(lookup func(key string) (value string, found bool)) {
	for key, dst := range map[string]*string{
		"LISTEN_ADDRESS":  &c.ListenAddress,
		"API_KEY":         &c.ApiKey,
		"STORAGE_DSN":     &c.Storage.DSN,
		"WALLET_URL":      &c.Wallet.Url,
		"WALLET_USERNAME": &c.Wallet.Username,
		"WALLET_PASSWORD": &c.Wallet.Password,
		"AMQP_URL":        &c.Ingest.AMQP.Url,
	} {
		value, found := lookup(EnvPrefix + key)
		if found {
			*dst = value
		}
	}
}

func (c *Config) Validate() (err error) {
	switch c.Storage.Driver {
	case storage.DriverBadger:
	case storage.DriverSqlite, storage.DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for %s", ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	switch c.Wallet.Type {
	case "pepecoin", "mock":
	default:
		return fmt.Errorf("%w: unknown wallet type %q", ErrInvalidConfig, c.Wallet.Type)
	}
	switch c.Wallet.Auth {
	case "", "none", "basic", "digest":
	default:
		return fmt.Errorf("%w: unknown wallet auth %q", ErrInvalidConfig, c.Wallet.Auth)
	}
	switch c.Ingest.Source {
	case "poll":
	case "amqp":
		if c.Ingest.AMQP.Url == "" {
			return fmt.Errorf("%w: ingest.amqp.url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown ingest source %q", ErrInvalidConfig, c.Ingest.Source)
	}
	if c.ProcessInterval <= 0 {
		return fmt.Errorf("%w: process-interval must be positive", ErrInvalidConfig)
	}
	if c.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidConfig)
	}
	for name, amount := range map[string]*decimal.Decimal{"min-amount": &c.MinAmount, "max-amount": &c.MaxAmount} {
		_, err = amount.Atomic()
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

func (c *Config) Logger(w io.Writer) (logger zerolog.Logger, err error) {
	level := zerolog.InfoLevel
	if c.Log.Level != "" {
		level, err = zerolog.ParseLevel(c.Log.Level)
		if err != nil {
			return logger, fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
		}
	}
	if c.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Components built from the configuration
type Components struct {
	Store      storage.Store
	Wallet     wallets.Wallet
	Metrics    *metrics.Metrics
	Controller *gateway.Controller
	// Nil unless ingest.source is amqp
	Ingest *ingest.AMQP
}

func (c *Components) Close() (err error) {
	if c.Ingest != nil {
		err = errors.Join(err, c.Ingest.Close())
	}
	if c.Store != nil {
		err = errors.Join(err, c.Store.Close())
	}
	return err
}

func (c *Config) openStore(logger *zerolog.Logger) (store storage.Store, err error) {
	switch c.Storage.Driver {
	case storage.DriverBadger:
		badgerStore, err := badgerdb.Open(badgerdb.Config{Path: c.Storage.Path, Logger: logger})
		if err != nil {
			return nil, err
		}
		return badgerStore, nil
	default:
		sqlStore, err := sqldb.Open(sqldb.Config{
			Driver:       c.Storage.Driver,
			DSN:          c.Storage.DSN,
			MaxOpenConns: c.Storage.MaxOpenConns,
			Migrate:      c.Storage.Migrate,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return sqlStore, nil
	}
}

func (c *Config) wallet() (wallet wallets.Wallet) {
	if c.Wallet.Type == "mock" {
		return mock.New(mock.Config{})
	}

	rpcConfig := rpc.Config{
		Url:    c.Wallet.Url,
		Client: &http.Client{},
	}
	switch c.Wallet.Auth {
	case "basic":
		rpcConfig.Username = c.Wallet.Username
		rpcConfig.Password = c.Wallet.Password
	case "digest":
		rpcConfig.Client.Transport = httpdigest.New(c.Wallet.Username, c.Wallet.Password)
	}
	if c.Wallet.RateLimit > 0 {
		rpcConfig.Limiter = rate.NewLimiter(rate.Limit(c.Wallet.RateLimit), max(c.Wallet.Burst, 1))
	}
	return pepecoin.New(pepecoin.Config{Client: rpc.New(rpcConfig)})
}

func (c *Config) Compile(logger *zerolog.Logger) (components Components, err error) {
	components.Store, err = c.openStore(logger)
	if err != nil {
		return components, fmt.Errorf("failed to open %s storage: %w", c.Storage.Driver, err)
	}

	components.Wallet = c.wallet()
	components.Metrics = metrics.New()
	components.Controller = gateway.New(gateway.Config{
		Store:            components.Store,
		Wallet:           components.Wallet,
		Currency:         c.Currency,
		Timeout:          c.Timeout,
		RPCTimeout:       c.Wallet.Timeout,
		MinAmount:        c.MinAmount.ToUint64(),
		MaxAmount:        c.MaxAmount.ToUint64(),
		MinConfirmations: c.MinConfirmations,
		MaxRetries:       c.MaxRetries,
		PollCount:        c.Wallet.PollCount,
		PollPages:        c.Wallet.PollPages,
		DisablePoll:      c.Ingest.Source == "amqp",
		Logger:           logger,
		Metrics:          components.Metrics,
	})

	if c.Ingest.Source == "amqp" {
		components.Ingest, err = ingest.Dial(ingest.Config{
			URL:        c.Ingest.AMQP.Url,
			Exchange:   c.Ingest.AMQP.Exchange,
			Queue:      c.Ingest.AMQP.Queue,
			RoutingKey: c.Ingest.AMQP.RoutingKey,
			Prefetch:   c.Ingest.AMQP.Prefetch,
			Gateway:    components.Controller,
			Logger:     logger,
		})
		if err != nil {
			components.Close()
			return components, fmt.Errorf("failed to connect ingest broker: %w", err)
		}
	}
	return components, nil
}
