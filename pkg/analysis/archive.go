package analysis

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/thenote/backend/pkg/audio/dsp"
)

// Archive is the durable backing store for analysis results, keyed by
// (session_id, frame_id). Every analysis is written through on completion,
// so results evicted from the in-memory cache remain retrievable.
type Archive struct {
	db *badger.DB
}

// ArchiveOptions configures the badger-backed archive.
type ArchiveOptions struct {
	// Dir is the directory for badger data files. Required unless InMemory.
	Dir string

	// InMemory runs badger without disk persistence. For tests.
	InMemory bool
}

// badgerSilent silences badger's default logger.
type badgerSilent struct{}

func (badgerSilent) Errorf(string, ...interface{})   {}
func (badgerSilent) Warningf(string, ...interface{}) {}
func (badgerSilent) Infof(string, ...interface{})    {}
func (badgerSilent) Debugf(string, ...interface{})   {}

// OpenArchive opens (or creates) the analysis archive.
func OpenArchive(opts ArchiveOptions) (*Archive, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("analysis: ArchiveOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerSilent{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("analysis: open archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func archiveKey(sessionID, frameID string) []byte {
	return []byte("analysis:" + sessionID + ":" + frameID)
}

// Put stores one analysis result.
func (a *Archive) Put(_ context.Context, result *dsp.Analysis) error {
	val, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("analysis: encode result: %w", err)
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(archiveKey(result.SessionID, result.SourceFrameID), val)
	})
}

// Get retrieves one analysis result. Returns ErrNotFound when absent.
func (a *Archive) Get(_ context.Context, sessionID, frameID string) (*dsp.Analysis, error) {
	var val []byte
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(sessionID, frameID))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, sessionID, frameID)
	}
	if err != nil {
		return nil, err
	}
	var result dsp.Analysis
	if err := msgpack.Unmarshal(val, &result); err != nil {
		return nil, fmt.Errorf("analysis: decode result: %w", err)
	}
	return &result, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
