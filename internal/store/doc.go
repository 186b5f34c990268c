// Package store persists embedded training items and serves similarity
// queries with the visibility predicate pushed down to the scan.
//
// Three backends implement the Store interface:
//
//   - MemoryStore: in-process exact cosine scan with a secondary index on
//     (database_type, tenant_id). The default; exact search is cheap at the
//     item counts this system holds.
//   - ChromemStore: persistent embedded storage on chromem-go. The
//     tenant-OR-shared predicate is decomposed into per-tenant filtered
//     queries that chromem evaluates before ranking, then merged by distance.
//   - QdrantStore: external Qdrant over gRPC; the predicate maps onto a
//     native Qdrant filter.
//
// Push-down matters for correctness, not just speed: ranking first and
// filtering after truncation can return zero visible results even when
// visible matches exist further down the ranking.
package store
