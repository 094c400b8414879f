package domain

import "encoding/json"

// DefaultRootID is the identifier given to the root node of a new tree.
const DefaultRootID NodeID = "root"

// Tree owns the node mapping for one tree. The parent relation is kept
// as a separate child-to-parent index rather than as back-references on
// the nodes themselves, so the graph stays acyclic by construction.
//
// Tree is not safe for concurrent use; the session loop serializes all
// mutations (see internal/runtime).
type Tree struct {
	id     string
	rootID NodeID
	nodes  map[NodeID]*Node
	parent map[NodeID]NodeID

	focus *NodeID
	zoom  float64
}

// New creates a tree with a fresh root node.
func New(treeID string) *Tree {
	return NewWithRoot(treeID, Node{ID: DefaultRootID, Type: NodeTypeTopic, Name: treeID})
}

// NewWithRoot creates a tree seeded with the given root node.
func NewWithRoot(treeID string, root Node) *Tree {
	r := root.Clone()
	return &Tree{
		id:     treeID,
		rootID: r.ID,
		nodes:  map[NodeID]*Node{r.ID: &r},
		parent: make(map[NodeID]NodeID),
		zoom:   1.0,
	}
}

// ID returns the tree identifier.
func (t *Tree) ID() string { return t.id }

// SetID renames the tree. Used when the user names a fork.
func (t *Tree) SetID(id string) { t.id = id }

// RootID returns the identifier of the root node.
func (t *Tree) RootID() NodeID { return t.rootID }

// Len returns the number of nodes, root included.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns a copy of the node with the given id.
func (t *Tree) Node(id NodeID) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// Parent returns the parent of id. The root has no parent.
func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	p, ok := t.parent[id]
	return p, ok
}

// Contains reports whether the identifier exists in the tree.
func (t *Tree) Contains(id NodeID) bool {
	_, ok := t.nodes[id]
	return ok
}

// AddNode attaches a new node under parentID, appended to the end of
// the parent's child list. The new node's own Children field is ignored;
// subtrees are built one node at a time.
func (t *Tree) AddNode(parentID NodeID, n Node) error {
	parent, ok := t.nodes[parentID]
	if !ok {
		return &NotFoundError{ID: parentID}
	}
	if _, dup := t.nodes[n.ID]; dup {
		return &DuplicateIDError{ID: n.ID}
	}
	child := n.Clone()
	child.Children = nil
	t.nodes[child.ID] = &child
	t.parent[child.ID] = parentID
	parent.Children = append(parent.Children, child.ID)
	return nil
}

// RemoveNode detaches id and its entire subtree, returning a snapshot
// sufficient to restore it at its prior position. Removing the root is
// an invariant violation.
func (t *Tree) RemoveNode(id NodeID) (*Subtree, error) {
	if _, ok := t.nodes[id]; !ok {
		return nil, &NotFoundError{ID: id}
	}
	if id == t.rootID {
		return nil, &InvariantError{Reason: "cannot remove the root node"}
	}

	parentID := t.parent[id]
	parent := t.nodes[parentID]
	index := -1
	for i, cid := range parent.Children {
		if cid == id {
			index = i
			break
		}
	}

	sub := &Subtree{Parent: parentID, Index: index, RootID: id}
	for _, nid := range t.descendants(id) {
		sub.Nodes = append(sub.Nodes, t.nodes[nid].Clone())
		if t.focus != nil && *t.focus == nid {
			sub.Focus = t.focus
			t.focus = nil
		}
		delete(t.nodes, nid)
		delete(t.parent, nid)
	}
	parent.Children = append(parent.Children[:index], parent.Children[index+1:]...)
	return sub, nil
}

// UpdateNode merges the supplied fields into the node and returns a
// patch holding the prior values of exactly the touched fields.
func (t *Tree) UpdateNode(id NodeID, patch NodePatch) (NodePatch, error) {
	n, ok := t.nodes[id]
	if !ok {
		return NodePatch{}, &NotFoundError{ID: id}
	}

	var prior NodePatch
	if patch.Name != nil {
		old := n.Name
		prior.Name = &old
		n.Name = *patch.Name
	}
	if patch.Type != nil {
		old := n.Type
		prior.Type = &old
		n.Type = *patch.Type
	}
	if len(patch.Metadata) > 0 {
		if n.Metadata == nil {
			n.Metadata = make(map[string]string, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			if old, ok := n.Metadata[k]; ok {
				if prior.Metadata == nil {
					prior.Metadata = make(map[string]string)
				}
				prior.Metadata[k] = old
			} else {
				// Absent key: compensating this update must delete
				// it, not write a zero value back.
				prior.RemoveMetadata = append(prior.RemoveMetadata, k)
			}
			n.Metadata[k] = v
		}
	}
	for _, k := range patch.RemoveMetadata {
		old, ok := n.Metadata[k]
		if !ok {
			continue
		}
		if prior.Metadata == nil {
			prior.Metadata = make(map[string]string)
		}
		if _, recorded := prior.Metadata[k]; !recorded {
			prior.Metadata[k] = old
		}
		delete(n.Metadata, k)
	}
	return prior, nil
}

// Restore reattaches a previously removed subtree at its recorded
// position. It is the inverse of RemoveNode.
func (t *Tree) Restore(sub *Subtree) error {
	parent, ok := t.nodes[sub.Parent]
	if !ok {
		return &NotFoundError{ID: sub.Parent}
	}
	for _, n := range sub.Nodes {
		if _, dup := t.nodes[n.ID]; dup {
			return &DuplicateIDError{ID: n.ID}
		}
	}
	for i := range sub.Nodes {
		n := sub.Nodes[i].Clone()
		t.nodes[n.ID] = &n
		for _, cid := range n.Children {
			t.parent[cid] = n.ID
		}
	}
	t.parent[sub.RootID] = sub.Parent
	index := sub.Index
	if index < 0 || index > len(parent.Children) {
		index = len(parent.Children)
	}
	parent.Children = append(parent.Children[:index],
		append([]NodeID{sub.RootID}, parent.Children[index:]...)...)
	if sub.Focus != nil {
		f := *sub.Focus
		t.focus = &f
	}
	return nil
}

// Focus returns the currently focused node, if any.
func (t *Tree) Focus() (NodeID, bool) {
	if t.focus == nil {
		return "", false
	}
	return *t.focus, true
}

// SetFocus moves focus to id (nil clears it) and returns the prior value.
func (t *Tree) SetFocus(id *NodeID) *NodeID {
	prior := t.focus
	if id == nil {
		t.focus = nil
	} else {
		v := *id
		t.focus = &v
	}
	return prior
}

// Zoom returns the current zoom level.
func (t *Tree) Zoom() float64 { return t.zoom }

// SetZoom updates the zoom level and returns the prior value.
func (t *Tree) SetZoom(level float64) float64 {
	prior := t.zoom
	t.zoom = level
	return prior
}

// Descendants returns id plus every node below it, depth-first in
// child order. Returns nil if id is absent.
func (t *Tree) Descendants(id NodeID) []NodeID {
	if _, ok := t.nodes[id]; !ok {
		return nil
	}
	return t.descendants(id)
}

func (t *Tree) descendants(id NodeID) []NodeID {
	out := []NodeID{id}
	for _, cid := range t.nodes[id].Children {
		out = append(out, t.descendants(cid)...)
	}
	return out
}

// Clone returns a deep copy of the tree, view state included.
func (t *Tree) Clone() *Tree {
	out := &Tree{
		id:     t.id,
		rootID: t.rootID,
		nodes:  make(map[NodeID]*Node, len(t.nodes)),
		parent: make(map[NodeID]NodeID, len(t.parent)),
		zoom:   t.zoom,
	}
	for id, n := range t.nodes {
		c := n.Clone()
		out.nodes[id] = &c
	}
	for c, p := range t.parent {
		out.parent[c] = p
	}
	if t.focus != nil {
		f := *t.focus
		out.focus = &f
	}
	return out
}

// Remapped returns a deep copy with every node identifier rewritten
// through mapping. Used when forking a tree into a fresh id namespace.
func (t *Tree) Remapped(treeID string, mapping func(NodeID) NodeID) *Tree {
	out := &Tree{
		id:     treeID,
		rootID: mapping(t.rootID),
		nodes:  make(map[NodeID]*Node, len(t.nodes)),
		parent: make(map[NodeID]NodeID, len(t.parent)),
		zoom:   t.zoom,
	}
	for id, n := range t.nodes {
		c := n.Clone()
		c.ID = mapping(id)
		for i, cid := range c.Children {
			c.Children[i] = mapping(cid)
		}
		out.nodes[c.ID] = &c
	}
	for c, p := range t.parent {
		out.parent[mapping(c)] = mapping(p)
	}
	if t.focus != nil {
		f := mapping(*t.focus)
		out.focus = &f
	}
	return out
}

// Equal reports structural equality: same ids, names, types, ordered
// children and metadata. View state and tree id are not compared.
func (t *Tree) Equal(other *Tree) bool {
	if t.rootID != other.rootID || len(t.nodes) != len(other.nodes) {
		return false
	}
	for id, n := range t.nodes {
		o, ok := other.nodes[id]
		if !ok || n.Name != o.Name || n.Type != o.Type {
			return false
		}
		if len(n.Children) != len(o.Children) {
			return false
		}
		for i := range n.Children {
			if n.Children[i] != o.Children[i] {
				return false
			}
		}
		if len(n.Metadata) != len(o.Metadata) {
			return false
		}
		for k, v := range n.Metadata {
			if o.Metadata[k] != v {
				return false
			}
		}
	}
	return true
}

// Subtree is a detached, restorable fragment of a tree. Nodes are laid
// out depth-first with the subtree root first, so Restore can rebuild
// the parent index in one pass.
type Subtree struct {
	Parent NodeID `json:"parent" mapstructure:"parent"`
	Index  int    `json:"index" mapstructure:"index"`
	RootID NodeID `json:"root_id" mapstructure:"root_id"`
	Nodes  []Node `json:"nodes" mapstructure:"nodes"`

	// Focus is the focus the removal displaced, when it pointed inside
	// the removed subtree. Restore puts it back.
	Focus *NodeID `json:"focus,omitempty" mapstructure:"focus"`
}

// treeWire is the serialized form of a Tree. Parent links are not
// stored; they are reconstructed from the child lists.
type treeWire struct {
	ID     string  `json:"id"`
	RootID NodeID  `json:"root_id"`
	Nodes  []Node  `json:"nodes"`
	Focus  *NodeID `json:"focus,omitempty"`
	Zoom   float64 `json:"zoom"`
}

// MarshalJSON serializes the tree with nodes in deterministic
// depth-first order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	wire := treeWire{ID: t.id, RootID: t.rootID, Zoom: t.zoom, Focus: t.focus}
	for _, id := range t.descendants(t.rootID) {
		wire.Nodes = append(wire.Nodes, t.nodes[id].Clone())
	}
	return json.Marshal(wire)
}

// UnmarshalJSON rebuilds the tree, including the parent index, from its
// serialized form.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var wire treeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t.id = wire.ID
	t.rootID = wire.RootID
	t.zoom = wire.Zoom
	t.focus = wire.Focus
	t.nodes = make(map[NodeID]*Node, len(wire.Nodes))
	t.parent = make(map[NodeID]NodeID)
	for i := range wire.Nodes {
		n := wire.Nodes[i].Clone()
		t.nodes[n.ID] = &n
	}
	for id, n := range t.nodes {
		for _, cid := range n.Children {
			t.parent[cid] = id
		}
	}
	return nil
}

// Serialize renders the tree as a JSON document.
func (t *Tree) Serialize() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Deserialize parses a document produced by Serialize. The round trip
// is exact: ids, names, types, child order, metadata and view state all
// survive, and parent links are rebuilt from the child lists.
func Deserialize(s string) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, err
	}
	return &t, nil
}
