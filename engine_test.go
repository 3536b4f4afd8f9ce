package cellar

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/cellar/ai/mock"
	"github.com/poiesic/cellar/catalog"
	"github.com/poiesic/cellar/core"
	"github.com/poiesic/cellar/search"
	"github.com/poiesic/cellar/storage"
	"github.com/poiesic/cellar/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

var testWines = []string{
	"Chablis 2019,France,Chardonnay,25",
	"Barolo 2015,Italy,Nebbiolo,60",
	"Rioja 2018,Spain,Tempranillo,",
	"Sancerre 2020,France,Sauvignon Blanc,30",
}

// writeSources writes a CSV and matching embeddings where each wine's
// vector is the mock embedding of its title.
func writeSources(t *testing.T, dir string, wines []string) catalog.Source {
	t.Helper()
	return writeSourcesWithDimension(t, dir, wines, testDimension)
}

func writeSourcesWithDimension(t *testing.T, dir string, wines []string, dim int) catalog.Source {
	t.Helper()

	csv := "title,country,variety,price\n"
	vectors := make([]core.Vector, len(wines))
	for i, w := range wines {
		csv += w + "\n"
		title, _, _ := strings.Cut(w, ",")
		vectors[i] = mock.DeterministicVector(title, dim)
	}

	src := catalog.Source{
		CSV:        filepath.Join(dir, "wine_data.csv"),
		Embeddings: filepath.Join(dir, "wine_embeddings.json"),
	}
	require.NoError(t, os.WriteFile(src.CSV, []byte(csv), 0644))

	f, err := os.Create(src.Embeddings)
	require.NoError(t, err)
	require.NoError(t, catalog.WriteEmbeddings(f, vectors, dim))
	require.NoError(t, f.Close())
	return src
}

func newTestEngine(t *testing.T, src catalog.Source, opts ...EngineOption) (*Engine, *mock.MockEmbedder) {
	t.Helper()
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	opts = append([]EngineOption{WithEmbedderFactory(embedder.Factory())}, opts...)
	e, err := NewEngine(context.Background(), src, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, embedder
}

func TestNewEngine(t *testing.T) {
	src := writeSources(t, t.TempDir(), testWines)
	e, embedder := newTestEngine(t, src)

	cat, err := e.Catalog()
	require.NoError(t, err)
	assert.Equal(t, 4, cat.Len())
	assert.Equal(t, testDimension, cat.Dimension())

	assert.NotNil(t, e.Searcher())
	assert.NotNil(t, e.Store())
	assert.False(t, e.Gateway().Ready(), "embedding model is built lazily")
	assert.Equal(t, 0, embedder.CallCount())
}

func TestNewEngine_Errors(t *testing.T) {
	t.Run("no sources and no snapshot", func(t *testing.T) {
		_, err := NewEngine(context.Background(), catalog.Source{},
			WithEmbedderFactory(mock.NewMockEmbedder().Factory()))
		assert.ErrorIs(t, err, ErrNoCatalog)
	})

	t.Run("missing files", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewEngine(context.Background(), catalog.Source{
			CSV:        filepath.Join(dir, "absent.csv"),
			Embeddings: filepath.Join(dir, "absent.json"),
		}, WithEmbedderFactory(mock.NewMockEmbedder().Factory()))
		assert.ErrorIs(t, err, core.ErrLoad)
	})

	t.Run("invalid snapshot path", func(t *testing.T) {
		dir := t.TempDir()
		src := writeSources(t, dir, testWines)
		_, err := NewEngine(context.Background(), src,
			WithEmbedderFactory(mock.NewMockEmbedder().Factory()),
			WithSnapshotPath(src.CSV))
		assert.Error(t, err)
	})

	t.Run("nil factory", func(t *testing.T) {
		_, err := NewEngine(context.Background(), catalog.Source{}, WithEmbedderFactory(nil))
		assert.Error(t, err)
	})
}

func TestEngine_Search(t *testing.T) {
	src := writeSources(t, t.TempDir(), testWines)
	e, _ := newTestEngine(t, src, WithSearchOptions(search.WithTopK(2)))
	ctx := context.Background()

	results, err := e.Searcher().ByDescription(ctx, "Barolo 2015")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Barolo 2015", results[0].Record.Title())
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.True(t, e.Gateway().Ready())

	results, err = e.Searcher().ByDescriptionWithFilters(ctx, "Barolo 2015", search.Filters{Country: "france"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "France", r.Record.Country())
	}

	results, err = e.Searcher().ByFavorites(ctx, []int{0})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, 0, r.Record.Index, "favorites are excluded")
	}
}

func TestEngine_ReloadWithNewDimension(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testWines)
	model := mock.NewMockEmbedderWithDimension(16)
	e, err := NewEngine(context.Background(), src, WithEmbedderFactory(model.Factory()))
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()

	_, err = e.Searcher().ByDescription(ctx, "Barolo 2015")
	assert.ErrorIs(t, err, core.ErrDimensionMismatch, "model and catalog disagree")

	// Catalog re-embedded with the new model.
	writeSourcesWithDimension(t, dir, testWines, 16)
	cat, err := e.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, 16, cat.Dimension())

	results, err := e.Searcher().ByDescription(ctx, "Barolo 2015")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Barolo 2015", results[0].Record.Title())
}

func TestEngine_Facets(t *testing.T) {
	src := writeSources(t, t.TempDir(), testWines)
	e, _ := newTestEngine(t, src)

	facets, err := e.Facets()
	require.NoError(t, err)
	assert.Equal(t, []string{"France", "Italy", "Spain"}, facets.Countries)
	assert.Equal(t, []string{"Chardonnay", "Nebbiolo", "Sauvignon Blanc", "Tempranillo"}, facets.Varieties)
}

func TestEngine_Snapshot(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testWines)
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	e, _ := newTestEngine(t, src, WithSnapshotRepository(repo))
	first, err := e.Catalog()
	require.NoError(t, err)

	meta, err := repo.CurrentMeta(ctx)
	require.NoError(t, err, "loading from sources stores a snapshot")
	assert.Equal(t, first.Fingerprint(), meta.Fingerprint)
	assert.Equal(t, 4, meta.RecordCount)

	t.Run("unchanged sources reuse the snapshot", func(t *testing.T) {
		e2, _ := newTestEngine(t, src, WithSnapshotRepository(repo))
		cat, err := e2.Catalog()
		require.NoError(t, err)
		assert.Equal(t, first.Fingerprint(), cat.Fingerprint())
		assert.True(t, first.CreatedAt().Truncate(time.Microsecond).Equal(cat.CreatedAt()), "catalog came from the snapshot")
	})

	t.Run("no sources reopen the snapshot", func(t *testing.T) {
		e3, _ := newTestEngine(t, catalog.Source{}, WithSnapshotRepository(repo))
		cat, err := e3.Catalog()
		require.NoError(t, err)
		assert.Equal(t, 4, cat.Len())

		_, err = e3.Reload(ctx)
		assert.ErrorIs(t, err, catalog.ErrSourceRequired)
	})

	t.Run("unreadable sources fall back to the snapshot", func(t *testing.T) {
		missing := catalog.Source{
			CSV:        filepath.Join(dir, "moved.csv"),
			Embeddings: filepath.Join(dir, "moved.json"),
		}
		e5, _ := newTestEngine(t, missing, WithSnapshotRepository(repo))
		cat, err := e5.Catalog()
		require.NoError(t, err)
		assert.Equal(t, first.Fingerprint(), cat.Fingerprint())
	})

	t.Run("changed sources replace the snapshot", func(t *testing.T) {
		changed := writeSources(t, dir, testWines[:2])
		e4, _ := newTestEngine(t, changed, WithSnapshotRepository(repo))
		cat, err := e4.Catalog()
		require.NoError(t, err)
		assert.Equal(t, 2, cat.Len())

		meta, err := repo.CurrentMeta(ctx)
		require.NoError(t, err)
		assert.Equal(t, cat.Fingerprint(), meta.Fingerprint)
	})
}

func TestEngine_SnapshotPath(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testWines)
	dbPath := filepath.Join(dir, "db")

	e, _ := newTestEngine(t, src, WithSnapshotPath(dbPath))
	meta, err := e.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, meta.VectorCount)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	e2, _ := newTestEngine(t, catalog.Source{}, WithSnapshotPath(dbPath))
	cat, err := e2.Catalog()
	require.NoError(t, err)
	assert.Equal(t, meta.Fingerprint, cat.Fingerprint())
}

func TestEngine_SaveWithoutRepository(t *testing.T) {
	src := writeSources(t, t.TempDir(), testWines)
	e, _ := newTestEngine(t, src)

	_, err := e.Save(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshotStore)

	_, ok := e.StoredSnapshot()
	assert.False(t, ok)
}

type countingRepository struct {
	storage.SnapshotRepository
	saves int
}

func (r *countingRepository) SaveSnapshot(ctx context.Context, snap *core.Snapshot) (storage.SnapshotMeta, error) {
	r.saves++
	return r.SnapshotRepository.SaveSnapshot(ctx, snap)
}

func TestEngine_StoredSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testWines)
	mem, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer mem.Close()
	repo := &countingRepository{SnapshotRepository: mem}
	ctx := context.Background()

	e, _ := newTestEngine(t, src, WithSnapshotRepository(repo))
	cat, err := e.Catalog()
	require.NoError(t, err)

	meta, ok := e.StoredSnapshot()
	require.True(t, ok, "parsing sources stores a snapshot")
	assert.Equal(t, cat.Fingerprint(), meta.Fingerprint)
	assert.Equal(t, 4, meta.RecordCount)
	assert.Equal(t, 1, repo.saves)

	t.Run("restored snapshot counts as stored", func(t *testing.T) {
		e2, _ := newTestEngine(t, src, WithSnapshotRepository(repo))
		meta2, ok := e2.StoredSnapshot()
		require.True(t, ok)
		assert.Equal(t, meta.Fingerprint, meta2.Fingerprint)
		assert.Equal(t, 1, repo.saves)
	})

	t.Run("reload stores the new catalog", func(t *testing.T) {
		writeSources(t, dir, testWines[:3])
		reloaded, err := e.Reload(ctx)
		require.NoError(t, err)

		meta3, ok := e.StoredSnapshot()
		require.True(t, ok)
		assert.Equal(t, reloaded.Fingerprint(), meta3.Fingerprint)
		assert.Equal(t, 3, meta3.RecordCount)
		assert.Equal(t, 2, repo.saves)
	})
}

func TestEngine_Reload(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testWines)
	e, _ := newTestEngine(t, src)
	ctx := context.Background()

	before, err := e.Catalog()
	require.NoError(t, err)

	writeSources(t, dir, testWines[:3])
	after, err := e.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, after.Len())

	current, err := e.Catalog()
	require.NoError(t, err)
	assert.Same(t, after, current)
	assert.Equal(t, 4, before.Len(), "old catalog is untouched")

	require.NoError(t, os.WriteFile(src.Embeddings, []byte("{broken"), 0644))
	_, err = e.Reload(ctx)
	assert.ErrorIs(t, err, core.ErrLoad)

	current, err = e.Catalog()
	require.NoError(t, err)
	assert.Same(t, after, current, "failed reload keeps the current catalog")
}

func TestEngine_Watch(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testWines)
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()
	e, _ := newTestEngine(t, src, WithSnapshotRepository(repo))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *catalog.Catalog, 4)
	done := make(chan error, 1)
	go func() {
		done <- e.Watch(ctx, func(c *catalog.Catalog, err error) {
			if c == nil {
				return
			}
			select {
			case reloaded <- c:
			default:
			}
		}, catalog.WatchDebounce(20*time.Millisecond))
	}()

	// Give the watcher time to register before changing files
	time.Sleep(100 * time.Millisecond)
	writeSources(t, dir, testWines[:1])

	// The CSV and embeddings are written separately, so an intermediate
	// reload may see only one of them.
	var got *catalog.Catalog
	deadline := time.After(5 * time.Second)
	for got == nil {
		select {
		case c := <-reloaded:
			if c.Len() == 1 {
				got = c
			}
		case <-deadline:
			t.Fatal("catalog was not reloaded")
		}
	}

	current, err := e.Catalog()
	require.NoError(t, err)
	assert.Same(t, got, current)

	require.Eventually(t, func() bool {
		meta, err := repo.CurrentMeta(context.Background())
		return err == nil && meta.Fingerprint == got.Fingerprint()
	}, time.Second, 10*time.Millisecond, "reloads are saved as snapshots")

	cancel()
	assert.NoError(t, <-done)
}
