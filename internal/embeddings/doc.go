// Package embeddings provides embedding generation for knowledge items.
//
// The default provider talks to a TEI-compatible HTTP server (POST /embed
// returning [][]float32). A deterministic hash provider backs tests and
// offline dry runs where no embedding server is available.
package embeddings
