// Package history persists completed campaign send passes so partial
// failures can be inspected after the wizard session is gone.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/taskflow/mailcenter/internal/models"
)

var bucketHistory = []byte("campaign_history")

// Item is one recipient's outcome within a recorded pass.
type Item struct {
	Email  string            `json:"email"`
	Name   string            `json:"name"`
	Status models.SendStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}

// Record is one completed send pass.
type Record struct {
	ID           string    `json:"id"`
	TemplateID   string    `json:"template_id"`
	TemplateName string    `json:"template_name"`
	Category     string    `json:"category"`
	SentAt       time.Time `json:"sent_at"`
	Total        int       `json:"total"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	Items        []Item    `json:"items"`
}

// Storage stores send-pass records in BoltDB.
type Storage struct {
	db *bolt.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Save stores a record. Keys are time-prefixed so iteration order is
// chronological.
func (s *Storage) Save(rec *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketHistory)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		return bucket.Put(makeIndexKey(rec.SentAt, rec.ID), data)
	})
}

// Get retrieves a record by ID.
func (s *Storage) Get(id string) (*Record, error) {
	var rec *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.ID == id {
				rec = &r
				return nil
			}
		}
		return nil
	})

	return rec, err
}

// List returns up to limit records, newest first.
func (s *Storage) List(limit int) ([]*Record, error) {
	var records []*Record

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, &rec)
			if limit > 0 && len(records) >= limit {
				return nil
			}
		}
		return nil
	})

	return records, err
}

// makeIndexKey builds a key ordered by timestamp with the ID as a
// tiebreaker.
func makeIndexKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}
