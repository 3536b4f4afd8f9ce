// Package reembed builds the embeddings sidecar for a wine catalog.
//
// Records are read from the catalog CSV, turned into a descriptive text,
// embedded in batches with retry and exponential backoff, normalized, and
// written out as the {"embeddings": [...], "dimension": D} file the catalog
// loader expects. The i-th vector always belongs to the i-th CSV row.
package reembed
