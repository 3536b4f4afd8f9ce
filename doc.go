// Package cellar is a semantic search engine for wine catalogs.
//
// A catalog is a CSV of wines plus a sidecar file holding one embedding per
// row. The Engine loads both, keeps an immutable in-memory snapshot of them
// and answers three kinds of query through its Searcher: free-text
// descriptions, descriptions narrowed by country, variety and price, and
// "more like these" from a set of favorite wines.
//
// Parsed catalogs can be stored in a badger database so later runs start
// without parsing, and local sources can be watched and reloaded while
// queries are being served.
package cellar
