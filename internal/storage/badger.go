package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/Jita81/SelfImprovingRAG/internal/models"
	"github.com/Jita81/SelfImprovingRAG/internal/utils"
)

const badgerKeyPrefix = "history/"

// BadgerBackend stores each document as a single JSON value keyed by
// history/<document>.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens a badger database at dir, or in memory when inMemory is set.
func OpenBadger(dir string, inMemory bool) (*BadgerBackend, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func badgerKey(doc Document) []byte {
	return []byte(badgerKeyPrefix + string(doc))
}

// Load implements Backend.
func (b *BadgerBackend) Load(_ context.Context, doc Document) ([]models.ValidationRecord, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(doc))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError("storage.badger.load", string(doc), err)
	}
	return unmarshalRecords(data)
}

// Save implements Backend.
func (b *BadgerBackend) Save(_ context.Context, doc Document, records []models.ValidationRecord) error {
	data, err := marshalRecords(records, false)
	if err != nil {
		return utils.NewAppError("storage.badger.save", string(doc), err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(doc), data)
	}); err != nil {
		return utils.NewAppError("storage.badger.save", string(doc), err)
	}
	return nil
}

// Clear implements Backend.
func (b *BadgerBackend) Clear(_ context.Context, doc Document) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(doc))
	}); err != nil {
		return utils.NewAppError("storage.badger.clear", string(doc), err)
	}
	return nil
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
