package boltdb

import (
	"time"

	"fiatjaf.com/nostrpool/eventstore"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"
)

var (
	rawEventStore  = []byte("events")
	indexCreatedAt = []byte("indexCreatedAt")
)

var _ eventstore.Backend = (*BoltBackend)(nil)

// BoltBackend stores events as JSON in the "events" bucket, keyed by id, with an index by
// created_at so they can be scanned newest first.
type BoltBackend struct {
	Path string
	DB   *bbolt.DB

	// Logger defaults to zerolog.Nop().
	Logger *zerolog.Logger
}

// New opens (or creates) the database at path.
func New(path string) (*eventstore.Store, error) {
	b := &BoltBackend{Path: path}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return eventstore.New(b), nil
}

func (b *BoltBackend) Init() error {
	if b.Logger == nil {
		nop := zerolog.Nop()
		b.Logger = &nop
	}

	db, err := bbolt.Open(b.Path, 0600, &bbolt.Options{
		Timeout:         2 * time.Second,
		PreLoadFreelist: true,
		FreelistType:    bbolt.FreelistMapType,
	})
	if err != nil {
		return err
	}

	db.MaxBatchDelay = time.Millisecond * 40
	b.DB = db
	b.Logger.Debug().Str("path", b.Path).Msg("bolt opened")

	return db.Update(createBuckets)
}

func createBuckets(txn *bbolt.Tx) error {
	if _, err := txn.CreateBucketIfNotExists(rawEventStore); err != nil {
		return err
	}
	if _, err := txn.CreateBucketIfNotExists(indexCreatedAt); err != nil {
		return err
	}
	return nil
}

func (b *BoltBackend) Close() error {
	return b.DB.Close()
}
