/*
Package canopy is an event-sourced engine for collaborative trees: a
consistent, undoable, reconcilable tree of nodes mutated by a stream of
discrete events that originate both locally (possibly offline) and
remotely (server-confirmed history from other clients).

# Concept

Every mutation is an event. Events are validated against the current
tree, applied, and recorded in an append-only log; replaying the log
from the initial snapshot always reproduces the same tree. Undo never
rewrites history, it appends a compensating event. When local and
server histories diverge, the reconciliation engine either merges them
or forks the local edits into a second tree — never losing either side.

# Key Features

  - Deterministic Execution: replaying the same events from the same
    snapshot always yields the same tree.
  - Hexagonal Architecture: core logic is decoupled from adapters
    (durable queue stores, transports, presentation).
  - Offline-First: local events buffer in a durable queue and survive
    process restarts; reconnection drains them through reconciliation.
  - Strict Validation: an event that is not applicable is rejected
    whole; no partial application is ever observable.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/canopyhq/canopy"
		"github.com/canopyhq/canopy/pkg/domain"
	)

	func main() {
		ctx := context.Background()
		session, err := canopy.Open(ctx, "garden-plan")
		if err != nil {
			log.Fatal(err)
		}
		defer session.Close()

		_, err = session.CreateNode(ctx, session.RootID(), domain.Node{
			ID: "beds", Name: "Raised beds", Type: domain.NodeTypeTopic,
		})
		if err != nil {
			log.Fatal(err)
		}
		if _, err := session.Undo(ctx); err != nil {
			log.Fatal(err)
		}
	}
*/
package canopy
