package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RogueTeam/8ball/orders"
	"github.com/RogueTeam/8ball/storage"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	// Directory of the database. Ignored when InMemory is set
	Path     string
	InMemory bool
	Logger   *zerolog.Logger
}

type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

func Open(config Config) (s *Store, err error) {
	l := config.Logger
	if l == nil {
		nop := zerolog.Nop()
		l = &nop
	}
	sub := l.With().Str("component", "badger").Logger()

	options := badger.DefaultOptions(config.Path).WithLogger(&logger{log: &sub})
	if config.InMemory {
		options = options.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() (err error) {
	return s.db.Close()
}

func convertError(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", storage.ErrConflict, err)
	}
	return err
}

func getOrder(txn *badger.Txn, id uuid.UUID) (order orders.Order, err error) {
	item, err := txn.Get(OrderKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return order, storage.ErrNotFound
		}
		return order, fmt.Errorf("failed to get order: %w", err)
	}

	err = item.Value(func(val []byte) (err error) {
		err = order.FromBytes(val)
		if err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		return nil
	})
	return order, err
}

func setOpenIndexes(txn *badger.Txn, order *orders.Order) (err error) {
	err = txn.Set(PendingKey(order.Id), encodeTime(order.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to add pending key: %w", err)
	}
	if order.PaymentAddress == "" {
		return nil
	}
	err = txn.Set(AddressKey(order.PaymentAddress), order.Id[:])
	if err != nil {
		return fmt.Errorf("failed to bind address: %w", err)
	}
	return nil
}

func deleteOpenIndexes(txn *badger.Txn, order *orders.Order) (err error) {
	err = txn.Delete(PendingKey(order.Id))
	if err != nil {
		return fmt.Errorf("failed to delete pending key: %w", err)
	}
	if order.PaymentAddress == "" {
		return nil
	}

	addressKey := AddressKey(order.PaymentAddress)
	item, err := txn.Get(addressKey)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to get address binding: %w", err)
	}

	var owner uuid.UUID
	err = item.Value(func(val []byte) (err error) {
		owner, err = uuid.FromBytes(val)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to decode address binding: %w", err)
	}
	if owner != order.Id {
		return nil
	}
	err = txn.Delete(addressKey)
	if err != nil {
		return fmt.Errorf("failed to release address: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, order *orders.Order) (err error) {
	err = s.db.Update(func(txn *badger.Txn) (err error) {
		_, err = txn.Get(OrderKey(order.Id))
		if err == nil {
			return fmt.Errorf("order %s already exists", order.Id)
		}

		open := !order.Status.IsTerminal()
		if open && order.PaymentAddress != "" {
			_, err = txn.Get(AddressKey(order.PaymentAddress))
			switch {
			case err == nil:
				return fmt.Errorf("%w: %s", storage.ErrAddressConflict, order.PaymentAddress)
			case !errors.Is(err, badger.ErrKeyNotFound):
				return fmt.Errorf("failed to check address: %w", err)
			}
		}

		created := *order
		created.Version = 1
		err = txn.Set(OrderKey(created.Id), created.Bytes())
		if err != nil {
			return fmt.Errorf("failed to set order: %w", err)
		}

		if open {
			err = setOpenIndexes(txn, &created)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}
	order.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (order orders.Order, err error) {
	err = s.db.View(func(txn *badger.Txn) (err error) {
		order, err = getOrder(txn, id)
		return err
	})
	return order, err
}

func (s *Store) ByAddress(ctx context.Context, address string) (order orders.Order, err error) {
	err = s.db.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(AddressKey(address))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("failed to get address binding: %w", err)
		}

		var id uuid.UUID
		err = item.Value(func(val []byte) (err error) {
			id, err = uuid.FromBytes(val)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to decode address binding: %w", err)
		}

		order, err = getOrder(txn, id)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return storage.ErrNotFound
		}
		return nil
	})
	return order, err
}

func (s *Store) List(ctx context.Context, req storage.ListRequest) (result storage.ListResult, err error) {
	var matched []orders.Order
	err = s.db.View(func(txn *badger.Txn) (err error) {
		options := badger.DefaultIteratorOptions
		options.Prefix = ordersPrefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(ordersPrefix); it.Next() {
			var order orders.Order
			err = it.Item().Value(func(val []byte) (err error) {
				return order.FromBytes(val)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal order: %w", err)
			}

			if req.Status != nil && order.Status != *req.Status {
				continue
			}
			matched = append(matched, order)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	slices.SortFunc(matched, func(a, b orders.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(b.Id[:], a.Id[:])
	})

	result.Total = len(matched)
	start := min(req.Offset, len(matched))
	end := len(matched)
	if req.Limit > 0 {
		end = min(start+req.Limit, len(matched))
	}
	result.Orders = matched[start:end]
	return result, nil
}

func (s *Store) Update(ctx context.Context, order *orders.Order) (err error) {
	next := *order
	next.Version++

	err = s.db.Update(func(txn *badger.Txn) (err error) {
		stored, err := getOrder(txn, order.Id)
		if err != nil {
			return err
		}
		if stored.Version != order.Version {
			return fmt.Errorf("%w: stored version %d, got %d", storage.ErrConflict, stored.Version, order.Version)
		}

		err = txn.Set(OrderKey(next.Id), next.Bytes())
		if err != nil {
			return fmt.Errorf("failed to set order: %w", err)
		}

		if next.Status.IsTerminal() && !stored.Status.IsTerminal() {
			err = deleteOpenIndexes(txn, &next)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}
	order.Version = next.Version
	return nil
}

func (s *Store) Expirable(ctx context.Context, now time.Time, limit int) (ids []uuid.UUID, err error) {
	err = s.db.View(func(txn *badger.Txn) (err error) {
		options := badger.DefaultIteratorOptions
		options.Prefix = pendingPrefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(pendingPrefix); it.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}

			item := it.Item()
			id, err := uuid.ParseBytes(item.Key()[len(pendingPrefix):])
			if err != nil {
				return fmt.Errorf("failed to parse pending key: %w", err)
			}

			var expiresAt time.Time
			err = item.Value(func(val []byte) (err error) {
				expiresAt, err = decodeTime(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to decode deadline: %w", err)
			}

			if expiresAt.After(now) {
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}
