package tickets

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "tickets"

// DB defines the interface for database operations
type DB interface {
	// SaveTicket inserts or replaces a ticket
	SaveTicket(t *Ticket) error

	// GetTicket retrieves a ticket by ID
	GetTicket(id string) (*Ticket, error)

	// ListTickets returns all tickets
	ListTickets() ([]*Ticket, error)

	// DeleteTicket removes a ticket
	DeleteTicket(id string) error

	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database file, creating the bucket on first use
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveTicket(t *Ticket) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling ticket: %w", err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(t.ID), data)
	})
}

// GetTicket returns ErrNotFound for an unknown id
func (b *BoltDB) GetTicket(id string) (*Ticket, error) {
	var t *Ticket
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTickets returns tickets in key order
func (b *BoltDB) ListTickets() ([]*Ticket, error) {
	tickets := make([]*Ticket, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var t Ticket
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling ticket %s: %w", k, err)
			}
			tickets = append(tickets, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// DeleteTicket returns ErrNotFound when nothing was stored under id
func (b *BoltDB) DeleteTicket(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}
