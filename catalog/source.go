package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/poiesic/cellar/core"
	"golang.org/x/sync/errgroup"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultHTTPClient httpDoer = &http.Client{Timeout: 2 * time.Minute}

// WithHTTPClient sets the client used for http(s) sources.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) error {
		if client != nil {
			o.client = client
		}
		return nil
	}
}

// Source locates the two files a catalog is built from.
// Each location is a local path or an http(s) URL.
type Source struct {
	CSV        string `yaml:"csv"`
	Embeddings string `yaml:"embeddings"`
}

// IsRemote reports whether location is fetched over HTTP.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Load fetches both sources concurrently and builds a catalog from them.
// Any fetch or parse failure is reported as core.ErrLoad.
func Load(ctx context.Context, src Source, opts ...Option) (*Catalog, error) {
	if src.CSV == "" || src.Embeddings == "" {
		return nil, ErrSourceRequired
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	logger := o.logger.With("component", "catalog-loader")

	var csvData, embData []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		csvData, err = fetch(gctx, o.client, src.CSV)
		return err
	})
	g.Go(func() error {
		var err error
		embData, err = fetch(gctx, o.client, src.Embeddings)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("error fetching catalog sources", "csv", src.CSV, "embeddings", src.Embeddings, "err", err)
		return nil, err
	}

	records, err := ReadRecords(bytes.NewReader(csvData))
	if err != nil {
		return nil, err
	}
	ef, err := ReadEmbeddings(bytes.NewReader(embData))
	if err != nil {
		return nil, err
	}
	logger.Info("catalog sources loaded",
		"records", len(records), "embeddings", len(ef.Embeddings), "dimension", ef.Dimension)

	fp := core.IDFromContent(csvData, embData)
	return New(records, ef.Embeddings, ef.Dimension, append(opts[:len(opts):len(opts)], WithFingerprint(fp))...)
}

// Fingerprint hashes both sources without parsing them.
func Fingerprint(ctx context.Context, src Source, opts ...Option) (core.ID, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return 0, err
	}
	csvData, err := fetch(ctx, o.client, src.CSV)
	if err != nil {
		return 0, err
	}
	embData, err := fetch(ctx, o.client, src.Embeddings)
	if err != nil {
		return 0, err
	}
	return core.IDFromContent(csvData, embData), nil
}

func fetch(ctx context.Context, client httpDoer, location string) ([]byte, error) {
	if !IsRemote(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrLoad, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrLoad, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", core.ErrLoad, location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching %s: status %s", core.ErrLoad, location, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", core.ErrLoad, location, err)
	}
	return data, nil
}
