// Package ledger records which poem IDs have already been written to the
// output file so that an interrupted harvest can resume without duplicating
// lines.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketCompleted = []byte("completed")

// ErrClosed is returned by operations on a closed ledger.
var ErrClosed = errors.New("ledger closed")

// Ledger is a persistent set of completed IDs backed by bbolt.
// It is safe for concurrent use.
type Ledger struct {
	db *bbolt.DB
}

// Open opens or creates the ledger file at path.
func Open(path string) (*Ledger, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCompleted)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger bucket: %w", err)
	}

	return &Ledger{db: db}, nil
}

func key(id uint32) []byte {
	var k [4]byte
	// Big-endian keeps bbolt's byte order equal to numeric order.
	binary.BigEndian.PutUint32(k[:], id)
	return k[:]
}

// Mark records id as complete. Marking an ID twice is not an error.
func (l *Ledger) Mark(id uint32) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339))
		return tx.Bucket(bucketCompleted).Put(key(id), stamp)
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("mark %d: %w", id, err)
	}
	return nil
}

// Count returns the number of completed IDs.
func (l *Ledger) Count() (int, error) {
	var n int
	err := l.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketCompleted).Stats().KeyN
		return nil
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return 0, ErrClosed
	}
	return n, err
}

// CompletedIn returns the completed IDs in [lo, hi), in ascending order.
func (l *Ledger) CompletedIn(lo, hi uint32) ([]uint32, error) {
	var ids []uint32
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCompleted).Cursor()
		for k, _ := c.Seek(key(lo)); k != nil; k, _ = c.Next() {
			id := binary.BigEndian.Uint32(k)
			if id >= hi {
				break
			}
			ids = append(ids, id)
		}
		return nil
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return nil, ErrClosed
	}
	return ids, err
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.db.Path()
}

// Close closes the ledger file.
func (l *Ledger) Close() error {
	return l.db.Close()
}
