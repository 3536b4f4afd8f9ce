package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/cellar/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCSV = `title,country,variety,price,organic,description
Chablis,France,Chardonnay,25,true,Crisp and mineral
Rioja,Spain,Tempranillo,,false,Oak and cherry

Barolo,Italy,Nebbiolo,abc,,"Tar, roses"
`

const testEmbeddings = `{"embeddings": [[1, 0], [0, 1], [0.6, 0.8]], "dimension": 2}`

func writeSources(t *testing.T, dir, csvText, embText string) Source {
	t.Helper()
	src := Source{
		CSV:        filepath.Join(dir, "wines.csv"),
		Embeddings: filepath.Join(dir, "wine_embeddings.json"),
	}
	require.NoError(t, os.WriteFile(src.CSV, []byte(csvText), 0o644))
	require.NoError(t, os.WriteFile(src.Embeddings, []byte(embText), 0o644))
	return src
}

func TestReadRecords_TypeInference(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(testCSV))
	require.NoError(t, err)
	require.Len(t, records, 3, "blank line skipped")

	chablis := records[0]
	assert.Equal(t, 0, chablis.Index)
	price, ok := chablis.Get(core.AttrPrice)
	require.True(t, ok)
	assert.Equal(t, float64(25), price)
	organic, ok := chablis.Get("organic")
	require.True(t, ok)
	assert.Equal(t, true, organic)

	rioja := records[1]
	_, ok = rioja.Get(core.AttrPrice)
	assert.False(t, ok, "empty cell is absent")
	organic, _ = rioja.Get("organic")
	assert.Equal(t, false, organic)

	barolo := records[2]
	assert.Equal(t, 2, barolo.Index)
	price, _ = barolo.Get(core.AttrPrice)
	assert.Equal(t, "abc", price)
	desc, _ := barolo.Text(core.AttrDescription)
	assert.Equal(t, "Tar, roses", desc)
}

func TestInferValue(t *testing.T) {
	tests := []struct {
		cell   string
		want   any
		wantOK bool
	}{
		{cell: "", wantOK: false},
		{cell: "TRUE", want: true, wantOK: true},
		{cell: "false", want: false, wantOK: true},
		{cell: "12.5", want: 12.5, wantOK: true},
		{cell: "-3", want: float64(-3), wantOK: true},
		{cell: ".5", want: 0.5, wantOK: true},
		{cell: "1e3", want: float64(1000), wantOK: true},
		{cell: "12abc", want: "12abc", wantOK: true},
		{cell: "9007199254740993", want: "9007199254740993", wantOK: true},
		{cell: " ", want: " ", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.cell, func(t *testing.T) {
			got, ok := inferValue(tt.cell)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRecords_Empty(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadRecords_IgnoresUnnamedColumns(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(",title\n0,Chablis\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Len())
	assert.Equal(t, "Chablis", records[0].Title())
}

func TestLoad_Files(t *testing.T) {
	src := writeSources(t, t.TempDir(), testCSV, testEmbeddings)

	c, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 2, c.Dimension())
	assert.True(t, c.Aligned())
	assert.NotZero(t, c.Fingerprint())

	again, err := Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, c.Fingerprint(), again.Fingerprint(), "same content, same fingerprint")

	fp, err := Fingerprint(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, c.Fingerprint(), fp)
}

func TestLoad_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/df.csv":
			w.Write([]byte(testCSV))
		case "/wine_embeddings.json":
			w.Write([]byte(testEmbeddings))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := Load(context.Background(), Source{
		CSV:        server.URL + "/df.csv",
		Embeddings: server.URL + "/wine_embeddings.json",
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = Load(context.Background(), Source{
		CSV:        server.URL + "/df.csv",
		Embeddings: server.URL + "/missing.json",
	}, WithHTTPClient(server.Client()))
	assert.ErrorIs(t, err, core.ErrLoad)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing location", func(t *testing.T) {
		_, err := Load(context.Background(), Source{CSV: "x.csv"})
		assert.ErrorIs(t, err, ErrSourceRequired)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(context.Background(), Source{
			CSV:        filepath.Join(dir, "nope.csv"),
			Embeddings: filepath.Join(dir, "nope.json"),
		})
		assert.ErrorIs(t, err, core.ErrLoad)
	})

	t.Run("malformed embeddings", func(t *testing.T) {
		src := writeSources(t, t.TempDir(), testCSV, `{"embeddings": [`)
		_, err := Load(context.Background(), src)
		assert.ErrorIs(t, err, core.ErrLoad)
	})

	t.Run("no embeddings", func(t *testing.T) {
		src := writeSources(t, t.TempDir(), testCSV, `{"embeddings": [], "dimension": 2}`)
		_, err := Load(context.Background(), src)
		assert.ErrorIs(t, err, core.ErrEmptyCatalog)
	})

	t.Run("count mismatch still loads", func(t *testing.T) {
		src := writeSources(t, t.TempDir(), testCSV, `{"embeddings": [[1, 0], [0, 1]], "dimension": 2}`)
		c, err := Load(context.Background(), src)
		require.NoError(t, err)
		assert.False(t, c.Aligned())
	})
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testCSV, testEmbeddings)

	initial, err := Load(context.Background(), src)
	require.NoError(t, err)
	store := NewStore(initial)

	reloaded := make(chan *Catalog, 4)
	w, err := NewWatcher(store, src,
		WatchDebounce(50*time.Millisecond),
		WatchHook(func(c *Catalog, err error) {
			if c != nil {
				reloaded <- c
			}
		}),
	)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(src.Embeddings,
		[]byte(`{"embeddings": [[1, 0], [0, 1], [0.6, 0.8], [0, -1]], "dimension": 2}`), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 4, c.Len())
		current, err := store.Current()
		require.NoError(t, err)
		assert.Same(t, c, current)
	case <-ctx.Done():
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcher_KeepsCatalogOnFailure(t *testing.T) {
	dir := t.TempDir()
	src := writeSources(t, dir, testCSV, testEmbeddings)

	initial, err := Load(context.Background(), src)
	require.NoError(t, err)
	store := NewStore(initial)

	failures := make(chan error, 4)
	w, err := NewWatcher(store, src,
		WatchDebounce(50*time.Millisecond),
		WatchHook(func(_ *Catalog, err error) {
			if err != nil {
				failures <- err
			}
		}),
	)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(src.Embeddings, []byte(`not json`), 0o644))

	select {
	case err := <-failures:
		assert.ErrorIs(t, err, core.ErrLoad)
		current, err := store.Current()
		require.NoError(t, err)
		assert.Same(t, initial, current)
	case <-ctx.Done():
		t.Fatal("timeout waiting for reload attempt")
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(nil, Source{CSV: "a", Embeddings: "b"})
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewWatcher(NewStore(nil), Source{})
	assert.ErrorIs(t, err, ErrSourceRequired)

	_, err = NewWatcher(NewStore(nil), Source{CSV: "a", Embeddings: "b"}, WatchDebounce(0))
	assert.Error(t, err)
}
