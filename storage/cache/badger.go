package cache

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
)

// Badger is the persistent Store, backed by an embedded BadgerDB at a
// configured directory. Key sizes are seeded from disk at open so the quota
// survives restarts.
type Badger struct {
	mu     sync.Mutex
	db     *badger.DB
	quota  *quota
	logger core.Logger
}

var _ Store = (*Badger)(nil)

func NewBadger(dir string, maxBytes int64, logger core.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger}).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening cache db")
	}

	b := &Badger{
		db:     db,
		quota:  newQuota(maxBytes),
		logger: logger,
	}
	if err = b.seedQuota(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sizing cache db")
	}
	return b, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Get(key string, v interface{}) error {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		// read failures degrade to the empty collection, same as a miss
		b.logger.Warn(fmt.Sprintf("cache: reading %q: %v", key, err))
		return nil
	}
	unmarshal(key, data, v, b.logger)
	return nil
}

func (b *Badger) Set(key string, v interface{}) bool {
	data, ok := marshal(key, v, b.logger)
	if !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.quota.sizes[key]
	if !b.quota.admit(key, int64(len(data))) {
		b.logger.Warn(capacityMsg(key, int64(len(data)), b.quota.max))
		return false
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		b.quota.seed(key, prev)
		b.logger.Error(fmt.Sprintf("cache: writing %q: %v", key, err))
		return false
	}
	return true
}

func (b *Badger) seedQuota() error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			b.quota.seed(string(item.Key()), int64(len(data)))
		}
		return nil
	})
}

// badgerLogger adapts core.Logger to badger's Logger interface.
type badgerLogger struct {
	logger core.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf("badger: "+format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf("badger: "+format, args...))
}
