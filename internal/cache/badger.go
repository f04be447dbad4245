package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BadgerStore implements Store on an embedded BadgerDB. Keys are stored as
// "<namespace>:<key>" and values as JSON-encoded Entry records.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts the global zap logger to badger.Logger.
type badgerLogger struct {
	log *zap.SugaredLogger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.log.Errorf(msg, items...) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.log.Warnf(msg, items...) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.log.Debugf(msg, items...) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.log.Debugf(msg, items...) }

// NewBadger opens a BadgerDB at dir, or an in-memory instance when dir is
// empty.
func NewBadger(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "badger: create dir %s", dir)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{log: zap.L().Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "badger: open")
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(ns Namespace, key string) []byte {
	return []byte(fmt.Sprintf("%s:%s", ns, key))
}

func (s *BadgerStore) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(ns, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "badger: get %s/%s", ns, key)
	}
	return []byte(e.Value), true, nil
}

func (s *BadgerStore) Put(_ context.Context, ns Namespace, key string, value []byte) error {
	if err := checkPut(ns, value); err != nil {
		return err
	}
	data, err := json.Marshal(Entry{Value: value, WrittenAt: time.Now().UTC()})
	if err != nil {
		return eris.Wrap(err, "badger: marshal entry")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(ns, key), data)
	})
	return eris.Wrapf(err, "badger: put %s/%s", ns, key)
}

func (s *BadgerStore) Len(_ context.Context, ns Namespace) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(string(ns) + ":")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, eris.Wrapf(err, "badger: count %s", ns)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
