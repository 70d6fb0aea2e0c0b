/*
Package samplestore provides the pluggable persistence collaborator of
the aggregation engine.

The engine in pkg/aggregator is deliberately memory-only: it retains a
sliding horizon of windows and nothing else. That keeps its locking
simple, but it also means a restart forgets the cluster's recent
history and capacity decisions stall until enough fresh windows fill
up. A Store closes that gap: accepted samples are appended to it as
they arrive, and on startup Replay feeds them back into a fresh
aggregator. Records behind the engine's retention horizon are rejected
during replay and eventually purged.

Two backends implement the interface:

  - memory: in-process slice, for tests and development
  - badger: BadgerDB with Snappy compression, keys prefixed by the
    sample timestamp so replay streams in time order

The engine never calls a Store itself; wiring the two together is the
server's job. That keeps the non-goal of the engine intact: it holds
no durable state and no I/O.
*/
package samplestore
