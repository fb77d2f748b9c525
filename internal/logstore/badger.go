package logstore

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// recordPrefix keys are "log:{seq}" with seq zero padded to 20 digits so that
// lexicographic key order is append order.
const recordPrefix = "log:"

// BadgerBackend stores each append as its own key in a BadgerDB directory.
type BadgerBackend struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// OpenBadgerBackend opens or creates a BadgerDB at dir and resumes the
// sequence after the last stored record.
func OpenBadgerBackend(dir string) (*BadgerBackend, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("%w: open badger %s: %v", ErrWriteFailure, dir, err)
	}
	return NewBadgerBackend(db)
}

// NewBadgerBackend wraps an already open database. The backend takes
// ownership and closes db on Close.
func NewBadgerBackend(db *badger.DB) (*BadgerBackend, error) {
	b := &BadgerBackend{db: db}
	last, err := b.lastSeq()
	if err != nil {
		return nil, err
	}
	b.seq = last
	return b, nil
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", recordPrefix, seq))
}

func (b *BadgerBackend) lastSeq() (uint64, error) {
	var last uint64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(recordPrefix)
		// Seek past the largest possible key, then step back onto it.
		it.Seek(append(append([]byte{}, prefix...), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		seq, err := strconv.ParseUint(string(it.Item().Key()[len(prefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("parse key %q: %w", it.Item().Key(), err)
		}
		last = seq
		return nil
	})
	return last, err
}

// Append implements Backend.
func (b *BadgerBackend) Append(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.seq + 1
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(next), append([]byte{}, data...))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	b.seq = next
	return nil
}

// ReadAll implements Backend by concatenating every record in key order.
func (b *BadgerBackend) ReadAll() ([]byte, error) {
	var (
		buf   bytes.Buffer
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			found = true
			if err := it.Item().Value(func(val []byte) error {
				buf.Write(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read badger log: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return buf.Bytes(), nil
}

// Clear implements Backend.
func (b *BadgerBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seq == 0 {
		return ErrNotFound
	}
	if err := b.db.DropPrefix([]byte(recordPrefix)); err != nil {
		return fmt.Errorf("drop badger log: %w", err)
	}
	b.seq = 0
	return nil
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
