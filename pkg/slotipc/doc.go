// Package slotipc implements a fixed-geometry shared-memory slot
// protocol between request producers and a single consumer.
//
// The region is a flat array of N equal slots. Each slot carries a
// 48-byte little-endian header (status, timestamp, request id, payload
// length) followed by a UTF-8 JSON payload. Producers write REQUEST
// slots; the consumer claims them (PROCESSING), writes a RESPONSE in
// place, and producers consume it back to EMPTY. Undeliverable slots
// are parked in ERROR until an administrative reset.
//
// All slot access is serialized by a single cross-process flock with a
// bounded acquire timeout, so no participant can starve the others by
// holding the region forever.
//
// The byte layout is fixed and shared with non-Go peers; see layout.go.
package slotipc
