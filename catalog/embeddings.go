package catalog

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/poiesic/cellar/core"
)

// EmbeddingsFile is the JSON layout of an embeddings source.
type EmbeddingsFile struct {
	Embeddings []core.Vector `json:"embeddings"`
	Dimension  int           `json:"dimension"`
}

// ReadEmbeddings decodes an embeddings document.
func ReadEmbeddings(r io.Reader) (*EmbeddingsFile, error) {
	var ef EmbeddingsFile
	if err := json.NewDecoder(r).Decode(&ef); err != nil {
		return nil, fmt.Errorf("%w: decoding embeddings: %w", core.ErrLoad, err)
	}
	return &ef, nil
}

// WriteEmbeddings encodes vectors as an embeddings document.
func WriteEmbeddings(w io.Writer, vectors []core.Vector, dimension int) error {
	if vectors == nil {
		vectors = []core.Vector{}
	}
	return json.NewEncoder(w).Encode(EmbeddingsFile{
		Embeddings: vectors,
		Dimension:  dimension,
	})
}
