package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	// Generations advance once per save, so a small lease is enough.
	sequenceBandwidth = 16

	// Vectors are dense floats and do not compress; keep whole snapshots in
	// the LSM tree so a load never seeks into the value log.
	valueThreshold = 1 << 20

	gcDiscardRatio = 0.5
)

// Backend wraps a BadgerDB instance and provides low-level operations.
type Backend struct {
	db       *badger.DB
	path     string
	inMemory bool
	logger   *slog.Logger
}

type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Errorf(msg string, items ...any) {
	a.logger.Error(fmt.Sprintf(msg, items...))
}

func (a *slogAdapter) Warningf(msg string, items ...any) {
	a.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; its progress lines go to debug.
func (a *slogAdapter) Infof(msg string, items ...any) {
	a.logger.Debug(fmt.Sprintf(msg, items...))
}

func (a *slogAdapter) Debugf(msg string, items ...any) {
	a.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens the snapshot database in the directory path, creating
// it if needed. With inMemory set the path is ignored and nothing touches
// disk.
func OpenBackend(path string, inMemory bool) (*Backend, error) {
	logger := slog.Default().With("component", "badger")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
		path = ""
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}

	opts = opts.
		WithLogger(&slogAdapter{logger: logger}).
		WithCompression(options.None).
		WithValueThreshold(valueThreshold).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}

	logger.Debug("database opened", "path", path, "inMemory", inMemory)
	return &Backend{
		db:       db,
		path:     path,
		inMemory: inMemory,
		logger:   logger,
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// Path returns the database directory, or "" when in memory.
func (b *Backend) Path() string {
	return b.path
}

// WithTx runs fn in a transaction. Writes are only kept if fn commits.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// GetSequence returns a persistent counter.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	return b.db.GetSequence([]byte(name), sequenceBandwidth)
}

// NewWriteBatch starts a batch for bulk writes that need not fit in one transaction.
func (b *Backend) NewWriteBatch() *badger.WriteBatch {
	return b.db.NewWriteBatch()
}

// DropPrefix deletes every key starting with any of the prefixes.
func (b *Backend) DropPrefix(prefixes ...[]byte) error {
	return b.db.DropPrefix(prefixes...)
}

// Size reports the bytes used by the LSM tree and the value log.
func (b *Backend) Size() (lsm, vlog int64) {
	return b.db.Size()
}

// CollectGarbage rewrites value log files that are mostly stale. It runs
// until no file qualifies and is a no-op for in-memory databases.
func (b *Backend) CollectGarbage() error {
	if b.inMemory {
		return nil
	}
	for {
		err := b.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
