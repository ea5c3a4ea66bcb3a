// Package upload batches data points and writes them to a time-series store.
//
// A Queue accumulates points per series in memory and drains them on three
// triggers: an explicit Flush, a fixed interval, and an optional pending
// point threshold. Each flush invokes the completion callback exactly once,
// with the batches that reached the store or with an empty slice when
// nothing did.
//
// Unknown series reported by the store can be created on demand. Points
// for series that cannot be created are dropped from that flush.
//
// Nothing is persisted. Points still pending when the process dies are lost.
package upload
