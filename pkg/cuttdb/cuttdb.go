// Package cuttdb is the public embedding API for the cuttdb storage engine:
// open a database directory (or an in-memory instance), then Set/Get/Delete
// keys and iterate records in oid order. It is a thin wrapper over
// internal/engine that re-exports the pieces an embedder needs without
// reaching into internal packages.
package cuttdb

import (
	"time"

	"go.uber.org/zap"

	"github.com/fusiyuan2010/cuttdb/internal/engine"
	"github.com/fusiyuan2010/cuttdb/pkg/errors"
	"github.com/fusiyuan2010/cuttdb/pkg/options"
)

// SetOption mirrors engine.SetOption so callers never need to import
// internal/engine themselves.
type SetOption = engine.SetOption

const (
	Overwrite        = engine.Overwrite
	InsertIfExist    = engine.InsertIfExist
	InsertIfNotExist = engine.InsertIfNotExist
	InsertCache      = engine.InsertCache
)

// Stat mirrors engine.Stat (spec.md §6 "stat").
type Stat = engine.Stat

// ErrClosed is returned by every DB method once Close has run.
var ErrClosed = engine.ErrClosed

// DB is a single cuttdb database instance, opened with Open.
type DB struct {
	eng *engine.Engine
}

// Open opens (or creates) a database directory per the given options,
// equivalent to the original API's new+option+open call sequence collapsed
// into one step. Pass options.WithInMemory to open a cache-only instance
// with no on-disk footprint.
func Open(path string, opts ...options.OptionFunc) (*DB, error) {
	o := options.Apply(opts...)
	if !o.InMemory {
		o.DataDir = path
	}

	log, err := newLogger()
	if err != nil {
		return nil, errors.NewEngineError(err, errors.ErrorCodeInternal, "failed to initialize logger").
			WithOperation("Open")
	}

	eng, err := engine.New(engine.Config{Options: o, Logger: log})
	if err != nil {
		return nil, err
	}
	return &DB{eng: eng}, nil
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Set stores key/value with the given conflict/cache flags and no expiry.
func (db *DB) Set(key, value []byte, opt SetOption) error {
	return db.eng.Set(key, value, opt, 0)
}

// SetX stores key/value with an expiry: the record becomes inaccessible (and
// eligible for compaction) once ttl has elapsed.
func (db *DB) SetX(key, value []byte, opt SetOption, ttl time.Duration) error {
	secs := uint32(ttl / time.Second)
	if ttl > 0 && secs == 0 {
		secs = 1
	}
	return db.eng.Set(key, value, opt, secs)
}

// Get retrieves the value stored for key, or a NotFound EngineError if no
// live record exists.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.eng.Get(key)
}

// Delete removes key's record, or returns a NotFound EngineError if it
// doesn't exist. The underlying bytes are reclaimed later by compaction.
func (db *DB) Delete(key []byte) error {
	return db.eng.Delete(key)
}

// Iterator walks records in oid order, oldest first.
type Iterator struct {
	it *engine.RecordIterator
}

// NewIterator starts an Iterator over every live, unexpired record with
// oid >= startOID (spec.md §6 "iterate-new"). Pass 0 to iterate everything.
// Callers must Close the iterator once done.
func (db *DB) NewIterator(startOID uint64) *Iterator {
	return &Iterator{it: db.eng.NewIterator(startOID)}
}

// Next advances the iterator and reports whether a record is available.
func (it *Iterator) Next() bool { return it.it.Next() }

// Key returns the current record's key.
func (it *Iterator) Key() []byte { return it.it.Key() }

// Value returns the current record's value.
func (it *Iterator) Value() []byte { return it.it.Value() }

// Expire returns the current record's absolute expiry (unix seconds, 0 = never).
func (it *Iterator) Expire() uint32 { return it.it.Expire() }

// OID returns the current record's operation id.
func (it *Iterator) OID() uint64 { return it.it.OID() }

// Err returns the first error the iteration encountered, if any.
func (it *Iterator) Err() error { return it.it.Err() }

// Close releases the iterator's background scan goroutine.
func (it *Iterator) Close() { it.it.Close() }

// Stat returns a snapshot of cache hit/miss counters and the live record
// count (spec.md §6 "stat").
func (db *DB) Stat() Stat {
	return db.eng.Stat()
}

// Close flushes all pending writes, persists the closed header, and
// releases the pid file (spec.md §5 "Cancellation and shutdown").
func (db *DB) Close() error {
	return db.eng.Close()
}
