// Package spool is a durable queue of receipt notices awaiting delivery, kept in a bbolt file.
//
// Notices are queued after a ballot commits and delivered by a Dispatcher. A notice that keeps
// failing is moved to the dead-letter bucket after a bounded number of attempts.
package spool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/google/uuid"
	"github.com/phayes/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	pendingBucket = "pending"
	deadBucket    = "dead"
)

var (
	ErrOpen      = errors.New("Could not open notification spool")
	ErrNotQueued = errors.New("Notice is not in the spool")
)

// Entry is a queued notice and its delivery state
type Entry struct {
	ID          string                `json:"id"`
	Notice      sealbox.ReceiptNotice `json:"notice"`
	Attempts    int                   `json:"attempts"`
	NextAttempt time.Time             `json:"nextAttempt"`
	LastError   string                `json:"lastError,omitempty"`
}

// Spool implements sealbox.Notifier
type Spool struct {
	db   *bolt.DB
	wake chan struct{}

	Now func() time.Time
}

// Open opens or creates the spool file at path
func Open(path string) (*Spool, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(ErrOpen, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{pendingBucket, deadBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(ErrOpen, err)
	}
	return &Spool{db: db, wake: make(chan struct{}, 1), Now: time.Now}, nil
}

func (s *Spool) Close() error {
	return s.db.Close()
}

// Enqueue stores a notice for immediate delivery
func (s *Spool) Enqueue(ctx context.Context, notice sealbox.ReceiptNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// v7 ids sort by creation time, so the pending bucket is in queue order
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	entry := Entry{ID: id.String(), Notice: notice, NextAttempt: s.now()}
	if err := s.put(pendingBucket, &entry); err != nil {
		return err
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires whenever a notice is queued
func (s *Spool) Wake() <-chan struct{} {
	return s.wake
}

// Due returns up to limit pending entries whose next attempt is not after now, oldest first
func (s *Spool) Due(now time.Time, limit int) ([]Entry, error) {
	var due []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(pendingBucket)).Cursor()
		for k, v := c.First(); k != nil && len(due) < limit; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.NextAttempt.After(now) {
				due = append(due, e)
			}
		}
		return nil
	})
	return due, err
}

// Done removes a delivered entry
func (s *Spool) Done(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(pendingBucket))
		if bkt.Get([]byte(id)) == nil {
			return ErrNotQueued
		}
		return bkt.Delete([]byte(id))
	})
}

// Retry records a failed attempt and schedules the next one
func (s *Spool) Retry(id string, cause error, next time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(pendingBucket))
		e, err := get(bkt, id)
		if err != nil {
			return err
		}
		e.Attempts++
		e.LastError = cause.Error()
		e.NextAttempt = next
		return put(bkt, e)
	})
}

// Bury records a final failed attempt and moves the entry to the dead-letter bucket
func (s *Spool) Bury(id string, cause error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket([]byte(pendingBucket))
		e, err := get(pending, id)
		if err != nil {
			return err
		}
		e.Attempts++
		e.LastError = cause.Error()
		if err := put(tx.Bucket([]byte(deadBucket)), e); err != nil {
			return err
		}
		return pending.Delete([]byte(id))
	})
}

// Pending counts entries awaiting delivery
func (s *Spool) Pending() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(pendingBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Dead lists entries that were given up on
func (s *Spool) Dead() ([]Entry, error) {
	var dead []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(deadBucket)).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			dead = append(dead, e)
			return nil
		})
	})
	return dead, err
}

func (s *Spool) put(bucket string, e *Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket([]byte(bucket)), e)
	})
}

func (s *Spool) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func get(bkt *bolt.Bucket, id string) (*Entry, error) {
	v := bkt.Get([]byte(id))
	if v == nil {
		return nil, ErrNotQueued
	}
	var e Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func put(bkt *bolt.Bucket, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return bkt.Put([]byte(e.ID), raw)
}
