// Package catalog holds the in-memory wine catalog: records paired
// position-for-position with their embedding vectors.
//
// A Catalog is immutable once built. Long-running processes keep the
// current Catalog in a Store and replace it wholesale when the sources
// change, so a query always sees one consistent snapshot.
//
// Sources are a CSV file of records and a JSON file of embeddings:
//
//	{"embeddings": [[0.01, -0.2, ...], ...], "dimension": 384}
//
// Either may be a local path or an http(s) URL.
package catalog
