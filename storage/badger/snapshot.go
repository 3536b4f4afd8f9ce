package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/cellar/core"
	"github.com/poiesic/cellar/storage"
)

// How often long loops check for cancellation.
const cancelCheckInterval = 1024

// SnapshotRepository implements storage.SnapshotRepository for BadgerDB.
type SnapshotRepository struct {
	backend     *Backend
	ownsBackend bool
	genSeq      *badger.Sequence
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ storage.SnapshotRepository = (*SnapshotRepository)(nil)

// newSnapshotRepository creates a repository on an open backend.
func newSnapshotRepository(backend *Backend, ownsBackend bool) (*SnapshotRepository, error) {
	genSeq, err := backend.GetSequence(snapshotGenSeq)
	if err != nil {
		return nil, err
	}

	return &SnapshotRepository{
		backend:     backend,
		ownsBackend: ownsBackend,
		genSeq:      genSeq,
		logger:      backend.logger.With("component", "snapshot-repository"),
	}, nil
}

// NewSnapshotRepository opens (or creates) a snapshot database at path.
// Closing the repository closes the database.
func NewSnapshotRepository(path string) (storage.SnapshotRepository, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	repo, err := newSnapshotRepository(backend, true)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return repo, nil
}

// NewSnapshotRepositoryWithBackend creates a repository on a backend the
// caller owns and closes.
func NewSnapshotRepositoryWithBackend(backend *Backend) (storage.SnapshotRepository, error) {
	return newSnapshotRepository(backend, false)
}

// Close releases the generation sequence and, if owned, the database.
func (r *SnapshotRepository) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.genSeq.Release()
		if r.ownsBackend {
			r.closeErr = errors.Join(r.closeErr, r.backend.Close())
		}
	})
	return r.closeErr
}

// SaveSnapshot writes snap as a new generation, then points current at it
// and drops the previous generation.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snap *core.Snapshot) (storage.SnapshotMeta, error) {
	if r.backend.IsClosed() {
		return storage.SnapshotMeta{}, storage.ErrStorageClosed
	}
	if err := core.ValidateSnapshot(snap); err != nil {
		return storage.SnapshotMeta{}, err
	}

	gen, err := r.nextGeneration()
	if err != nil {
		return storage.SnapshotMeta{}, err
	}
	meta := storage.MetaFromSnapshot(snap)

	if err := r.writeGeneration(ctx, gen, snap, meta); err != nil {
		r.dropGeneration(gen)
		return storage.SnapshotMeta{}, err
	}

	var previous uint64
	var hadPrevious bool
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		previous, hadPrevious, err = readCurrent(tx)
		if err != nil {
			return err
		}
		if err := tx.Set([]byte(snapshotCurrentKey), encodeGeneration(gen)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		r.dropGeneration(gen)
		return storage.SnapshotMeta{}, err
	}

	if hadPrevious {
		r.dropGeneration(previous)
		if err := r.backend.CollectGarbage(); err != nil {
			r.logger.Warn("value log cleanup failed", "err", err)
		}
	}
	lsm, vlog := r.backend.Size()
	r.logger.Info("snapshot saved", "generation", gen, "fingerprint", meta.Fingerprint,
		"records", meta.RecordCount, "vectors", meta.VectorCount, "bytes", lsm+vlog)
	return meta, nil
}

func (r *SnapshotRepository) nextGeneration() (uint64, error) {
	gen, err := r.genSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if gen == 0 {
		gen, err = r.genSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return gen, nil
}

func (r *SnapshotRepository) writeGeneration(ctx context.Context, gen uint64, snap *core.Snapshot, meta storage.SnapshotMeta) error {
	wb := r.backend.NewWriteBatch()
	defer wb.Cancel()

	for i, rec := range snap.Records {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if rec == nil {
			continue
		}
		if err := wb.Set(makeEntryKey(snapshotRecordPrefix, gen, i), storage.MarshalRecord(rec)); err != nil {
			return err
		}
	}
	for i, v := range snap.Vectors {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := wb.Set(makeEntryKey(snapshotVectorPrefix, gen, i), storage.MarshalVector(v)); err != nil {
			return err
		}
	}
	if err := wb.Set(makeMetaKey(gen), storage.MarshalSnapshotMeta(meta)); err != nil {
		return err
	}
	return wb.Flush()
}

func (r *SnapshotRepository) dropGeneration(gen uint64) {
	if err := r.backend.DropPrefix(generationPrefixes(gen)...); err != nil {
		r.logger.Warn("failed to drop snapshot generation", "generation", gen, "err", err)
	}
}

// LoadSnapshot reads the current snapshot in a single read transaction.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context) (*core.Snapshot, error) {
	if r.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var snap *core.Snapshot
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		gen, meta, err := readCurrentMeta(tx)
		if err != nil {
			return err
		}

		records := make([]*core.Record, meta.RecordCount)
		err = scanEntries(ctx, tx, makeGenerationPrefix(snapshotRecordPrefix, gen), func(index int, val []byte) error {
			if index >= len(records) {
				return fmt.Errorf("%w: record index %d beyond count %d", storage.ErrCorruptSnapshot, index, len(records))
			}
			rec, err := storage.UnmarshalRecord(val)
			if err != nil {
				return err
			}
			records[index] = rec
			return nil
		})
		if err != nil {
			return err
		}

		vectors := make([]core.Vector, meta.VectorCount)
		err = scanEntries(ctx, tx, makeGenerationPrefix(snapshotVectorPrefix, gen), func(index int, val []byte) error {
			if index >= len(vectors) {
				return fmt.Errorf("%w: vector index %d beyond count %d", storage.ErrCorruptSnapshot, index, len(vectors))
			}
			v, err := storage.UnmarshalVector(val)
			if err != nil {
				return err
			}
			vectors[index] = v
			return nil
		})
		if err != nil {
			return err
		}
		for i, v := range vectors {
			if v == nil {
				return fmt.Errorf("%w: vector %d missing", storage.ErrCorruptSnapshot, i)
			}
		}

		snap = &core.Snapshot{
			Fingerprint: meta.Fingerprint,
			Dimension:   meta.Dimension,
			Records:     records,
			Vectors:     vectors,
			CreatedAt:   meta.CreatedAt,
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("snapshot loaded", "fingerprint", snap.Fingerprint,
		"records", len(snap.Records), "vectors", len(snap.Vectors))
	return snap, nil
}

// CurrentMeta returns the metadata of the current snapshot.
func (r *SnapshotRepository) CurrentMeta(ctx context.Context) (storage.SnapshotMeta, error) {
	if r.backend.IsClosed() {
		return storage.SnapshotMeta{}, storage.ErrStorageClosed
	}

	var meta storage.SnapshotMeta
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		_, meta, err = readCurrentMeta(tx)
		return err
	}, false)
	return meta, err
}

// DeleteSnapshot removes the current snapshot.
func (r *SnapshotRepository) DeleteSnapshot(ctx context.Context) error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	var gen uint64
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var ok bool
		var err error
		gen, ok, err = readCurrent(tx)
		if err != nil {
			return err
		}
		if !ok {
			return storage.ErrNotFound
		}
		if err := tx.Delete([]byte(snapshotCurrentKey)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	r.dropGeneration(gen)
	r.logger.Info("snapshot deleted", "generation", gen)
	return nil
}

func encodeGeneration(gen uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, gen)
	return buf
}

// readCurrent returns the current generation number, if any.
func readCurrent(tx *badger.Txn) (uint64, bool, error) {
	item, err := tx.Get([]byte(snapshotCurrentKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	var gen uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: current pointer has %d bytes", storage.ErrCorruptSnapshot, len(val))
		}
		gen = binary.BigEndian.Uint64(val)
		return nil
	})
	return gen, err == nil, err
}

func readCurrentMeta(tx *badger.Txn) (uint64, storage.SnapshotMeta, error) {
	var meta storage.SnapshotMeta

	gen, ok, err := readCurrent(tx)
	if err != nil {
		return 0, meta, err
	}
	if !ok {
		return 0, meta, storage.ErrNotFound
	}

	item, err := tx.Get(makeMetaKey(gen))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, meta, fmt.Errorf("%w: generation %d has no metadata", storage.ErrCorruptSnapshot, gen)
	}
	if err != nil {
		return 0, meta, err
	}
	err = item.Value(func(val []byte) error {
		var err error
		meta, err = storage.UnmarshalSnapshotMeta(val)
		return err
	})
	return gen, meta, err
}

func scanEntries(ctx context.Context, tx *badger.Txn, prefix []byte, fn func(index int, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	n := 0
	for iter.Rewind(); iter.Valid(); iter.Next() {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++

		item := iter.Item()
		index := entryIndex(item.Key())
		if err := item.Value(func(val []byte) error {
			return fn(index, val)
		}); err != nil {
			return err
		}
	}
	return nil
}
