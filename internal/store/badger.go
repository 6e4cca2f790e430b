package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/badger/v4"

	"github.com/abelbrown/storyline/internal/logging"
	"github.com/abelbrown/storyline/internal/model"
)

// docPrefix namespaces document keys: doc:{filename} -> JSON.
const docPrefix = "doc:"

// Badger stores documents as JSON values in a Badger key-value store.
type Badger struct {
	db     *badger.DB
	logger *log.Logger
}

var _ DocStore = (*Badger)(nil)

// OpenBadger opens the store in dir, or in memory when dir is empty.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	b := &Badger{db: db, logger: logging.WithPrefix("store")}
	b.logger.Debug("badger store opened", "dir", dir, "in_memory", dir == "")
	return b, nil
}

func docKey(filename string) []byte {
	return []byte(docPrefix + filename)
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// Put writes doc, reporting whether the key was new.
func (b *Badger) Put(ctx context.Context, doc *model.Document) (bool, error) {
	if err := validName(doc); err != nil {
		return false, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", doc.Filename, err)
	}

	var created bool
	err = b.db.Update(func(txn *badger.Txn) error {
		key := docKey(doc.Filename)
		_, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			created = true
		case err != nil:
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("put %s: %w", doc.Filename, err)
	}
	return created, nil
}

func (b *Badger) Get(ctx context.Context, filename string) (*model.Document, error) {
	var doc model.Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(filename))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", filename, err)
	}
	return &doc, nil
}

func (b *Badger) Delete(ctx context.Context, filename string) (bool, error) {
	var existed bool
	err := b.db.Update(func(txn *badger.Txn) error {
		key := docKey(filename)
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", filename, err)
	}
	return existed, nil
}

// Scan decodes every document inside one read transaction, so the builder
// sees a consistent snapshot. Values that fail to decode are skipped.
// fn runs after the transaction ends.
func (b *Badger) Scan(ctx context.Context, fn func(*model.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var docs []*model.Document
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(docPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var doc model.Document
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				b.logger.Debug("skipping undecodable document", "key", string(item.Key()), "error", err)
				continue
			}
			docs = append(docs, &doc)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan documents: %w", err)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (b *Badger) Count(ctx context.Context) (int, error) {
	var n int
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(docPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
