// Package thread implements durable conversation turn storage.
//
// # Overview
//
// A thread is an ordered sequence of turns identified by a client-supplied
// thread ID. Turns carry a role, content, and a per-thread sequence number
// assigned by the store at append time. Sequence numbers are dense and start
// at 1 for the first turn of a thread.
//
// # Read and Write Families
//
// The store exposes two strictly disjoint operation families through the
// Reader and Writer interfaces. Read operations never mutate state, write
// operations never return stored history. Components hold only the interface
// they need: the context assembler holds a Reader, the gateway's persistence
// path holds a Writer.
//
// # Ordering
//
// Appends to the same thread are serialized by a per-thread lock, so two
// concurrent appends can never observe the same maximum sequence number.
// Appends to different threads proceed in parallel.
//
// # Backends
//
// Two backends are provided: an in-memory backend for tests and ephemeral
// deployments, and a SQLite backend (WAL mode) for durable single-node
// deployments.
package thread
