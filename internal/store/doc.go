// Package store provides the durable knowledge.Store adapters.
//
// Three backends are supported, selected by the factory from config:
//
//   - chromem: embedded chromem-go with gob-file persistence. Zero external
//     services; the default for single-host deployments.
//   - qdrant: external Qdrant over gRPC for deployments that share one
//     knowledge base across hosts.
//   - sqlite: single-file relational database. Embeddings are stored as
//     BLOBs and cosine similarity is computed in process.
//
// All adapters speak the same wire record: the item is serialized to a JSON
// document with the source descriptor in its compact token form, plus a
// small set of flat fields the backends can filter on. The in-memory store
// used by tests lives in package knowledge.
package store
