package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	klog "github.com/plenny-labs/dlsp/internal/log"
)

// BadgerDB is the on-disk store. Writes are synced before they return, so a
// saved channel point survives a crash right after the call.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger opens or creates a store in dir.
func NewBadger(dir string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{klog.Storage}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		if isLocked(err) {
			return nil, fmt.Errorf("store %s is in use (is another dlspd running?): %w", dir, err)
		}
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}
	klog.Storage.Debug().Str("dir", dir).Msg("Store opened")
	return &BadgerDB{db: db}, nil
}

func isLocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Cannot acquire directory lock") ||
		strings.Contains(msg, "resource temporarily unavailable")
}

// Get implements DB.
func (b *BadgerDB) Get(key []byte) (val []byte, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return val, nil
}

// Put implements DB.
func (b *BadgerDB) Put(key, value []byte) error {
	return b.update("put", key, func(txn *badger.Txn) error { return txn.Set(key, value) })
}

// Delete implements DB.
func (b *BadgerDB) Delete(key []byte) error {
	return b.update("delete", key, func(txn *badger.Txn) error { return txn.Delete(key) })
}

func (b *BadgerDB) update(op string, key []byte, fn func(*badger.Txn) error) error {
	if err := b.db.Update(fn); err != nil {
		return fmt.Errorf("%s %q: %w", op, key, err)
	}
	return nil
}

// Close implements DB.
func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's internal messages to the storage logger.
type badgerLogger struct{ l zerolog.Logger }

func (g badgerLogger) Errorf(f string, v ...interface{})   { g.l.Error().Msgf(strings.TrimSpace(f), v...) }
func (g badgerLogger) Warningf(f string, v ...interface{}) { g.l.Warn().Msgf(strings.TrimSpace(f), v...) }
func (g badgerLogger) Infof(f string, v ...interface{})    { g.l.Info().Msgf(strings.TrimSpace(f), v...) }
func (g badgerLogger) Debugf(f string, v ...interface{})   { g.l.Debug().Msgf(strings.TrimSpace(f), v...) }
