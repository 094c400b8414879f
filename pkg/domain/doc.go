/*
Package domain contains the core domain models for the Canopy engine.

It defines the fundamental entities of the event-sourced tree, such as Nodes,
the Tree store, and the closed set of Event variants that mutate it. This
package is kept pure and free of external dependencies like I/O or persistence,
following Hexagonal Architecture principles.

# Key Entities

  - Node: A single unit in the tree (name, type, ordered children, metadata).
  - Tree: The node mapping plus the root and the child-to-parent index.
  - Event: A tagged variant (NodeAdded, NodeRemoved, NodeUpdated,
    FocusChanged, ZoomChanged) discriminated by its Kind field.
  - Marker: A position within an event log, used to detect divergence
    between two replicas.
*/
package domain
