package database

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by every backend when a key is absent.
var ErrNotFound = errors.New("key not found")

type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)

	// Iterate calls fn for every key with the given prefix in ascending
	// key order. Returning an error from fn stops the iteration.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

type ReadWriter interface {
	Reader
	Writer
}

// KV is a storage backend. Write applies a whole batch or nothing.
type KV interface {
	ReadWriter

	Write(batch *Batch) error
	Close() error
}

type Backend string

const (
	BackendLevelDB Backend = "leveldb"
	BackendBolt    Backend = "bolt"
	BackendMongo   Backend = "mongo"
	BackendMemory  Backend = "memory"
)

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

type Batch struct {
	ops []batchOp
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

// Replay feeds the batch operations in insertion order to w.
func (b *Batch) Replay(w Writer) error {
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = w.Delete(op.key)
		} else {
			err = w.Put(op.key, op.value)
		}
		if err != nil {
			return fmt.Errorf("replay %q: %w", op.key, err)
		}
	}
	return nil
}

// Open opens the configured backend. path is a directory for leveldb, a file
// for bolt; uri and dbName are used by mongo only.
func Open(backend Backend, path, uri, dbName string) (KV, error) {
	switch backend {
	case BackendLevelDB:
		return NewLevelDB(path)
	case BackendBolt:
		return NewBoltDB(path)
	case BackendMongo:
		client, err := NewMongoDBConnection(uri)
		if err != nil {
			return nil, err
		}
		return NewMongoKV(client, dbName), nil
	case BackendMemory:
		return NewMemLevelDB()
	}
	return nil, fmt.Errorf("unknown db backend %q", backend)
}
