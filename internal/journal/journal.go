// Package journal persists state change events to disk so operators can
// review what the router did while nobody was watching.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"drouter-control/internal/state"
)

var bucketEvents = []byte("events")

// ErrNotFound is returned when a requested entry does not exist.
var ErrNotFound = errors.New("not found")

// DefaultMaxEntries bounds the journal; the oldest entries are pruned once
// the limit is exceeded.
const DefaultMaxEntries = 10000

// Entry is one recorded event.
type Entry struct {
	Seq  uint64          `json:"seq"`
	Time time.Time       `json:"time"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Journal is an append-only bbolt log of bus events.
type Journal struct {
	db         *bolt.DB
	maxEntries int
}

// Open opens or creates the journal database.
func Open(path string, maxEntries int) (*Journal, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Journal{db: db, maxEntries: maxEntries}, nil
}

// Record appends one event. Pruning happens in the same transaction, so the
// size bound holds even across crashes.
func (j *Journal) Record(ev state.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEvents)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := Entry{
			Seq:  seq,
			Time: time.Now().UTC(),
			Type: ev.Type,
			Data: data,
		}
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), buf); err != nil {
			return err
		}
		return j.pruneLocked(b)
	})
}

func (j *Journal) pruneLocked(b *bolt.Bucket) error {
	excess := b.Stats().KeyN + 1 - j.maxEntries // KeyN lags the current tx by one Put
	if excess <= 0 {
		return nil
	}
	c := b.Cursor()
	for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
		excess--
	}
	return nil
}

// Get returns one entry by sequence number.
func (j *Journal) Get(seq uint64) (*Entry, error) {
	var entry Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEvents)
		}
		data := b.Get(seqKey(seq))
		if data == nil {
			return fmt.Errorf("entry %d: %w", seq, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < limit; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Len returns the number of stored entries.
func (j *Journal) Len() (int, error) {
	var n int
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Attach subscribes the journal to a bus. The returned function detaches it.
func (j *Journal) Attach(bus *state.Bus, logFailure func(error)) func() {
	return bus.OnAll(func(ev state.Event) {
		if err := j.Record(ev); err != nil && logFailure != nil {
			logFailure(err)
		}
	})
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}
