// Package service is the fusion engine: it turns batches of raw dump records
// into graph mutations. One ingest call normalizes its records, resolves raw
// identifiers through the identity layer, merges the evidence into existing
// entities and applies the result to the store in a single transaction.
//
// Fusion is idempotent and order-independent. Entity IDs derive from content,
// evidence sets are sorted and deduplicated, timestamps only widen, and link
// confidence and status are pure functions of the supporting observation set.
// Feeding the same dumps in any order, any number of times, converges on the
// same graph.
package service
