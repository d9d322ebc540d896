package badger

import (
	"encoding/binary"

	"fiatjaf.com/nostrpool"
	"fiatjaf.com/nostrpool/eventstore"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const (
	rawEventStorePrefix  byte = 'e'
	indexCreatedAtPrefix byte = 'c'
)

var _ eventstore.Backend = (*BadgerBackend)(nil)

// BadgerBackend stores events as JSON under 'e'+id, with a 'c'+created_at+id index.
type BadgerBackend struct {
	Path string

	// InMemory ignores Path and keeps everything in memory.
	InMemory bool

	// Logger defaults to zerolog.Nop().
	Logger *zerolog.Logger

	*badger.DB
}

// New opens (or creates) the database at path, or an in-memory one when path is empty.
func New(path string) (*eventstore.Store, error) {
	b := &BadgerBackend{Path: path, InMemory: path == ""}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return eventstore.New(b), nil
}

func (b *BadgerBackend) Init() error {
	if b.Logger == nil {
		nop := zerolog.Nop()
		b.Logger = &nop
	}

	opts := badger.DefaultOptions(b.Path)
	if b.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return err
	}
	b.DB = db
	b.Logger.Debug().Str("path", b.Path).Bool("memory", b.InMemory).Msg("badger opened")
	return nil
}

func (b *BadgerBackend) Close() error {
	return b.DB.Close()
}

func rawKey(id nostr.ID) []byte {
	k := make([]byte, 1+32)
	k[0] = rawEventStorePrefix
	copy(k[1:], id[:])
	return k
}

func createdAtKey(evt nostr.Event) []byte {
	k := make([]byte, 1+8+32)
	k[0] = indexCreatedAtPrefix
	binary.BigEndian.PutUint64(k[1:9], uint64(evt.CreatedAt))
	copy(k[9:], evt.ID[:])
	return k
}
