/*
Package ports defines the driven ports (interfaces) for the Canopy engine.

These interfaces decouple the core logic from external implementations,
allowing the engine to work with various durable stores and transports.

# Key Interfaces

  - QueueStore: Persists the offline queue and last-known server version
    across process restarts (memory, file, Redis, SQLite adapters).
  - Backend: The authoritative event store. Accepts event batches and
    returns either acceptance or the divergent server history.
*/
package ports
