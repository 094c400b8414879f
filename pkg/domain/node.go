package domain

// NodeType constants describe what a node holds. The set is advisory:
// hosts may define their own types, the engine only stores the tag.
const (
	// NodeTypeTopic is a plain labelled node.
	NodeTypeTopic = "topic"
	// NodeTypeNote carries free-form text in its metadata.
	NodeTypeNote = "note"
	// NodeTypeLink points at an external resource.
	NodeTypeLink = "link"
)

// NodeID identifies a node uniquely within one tree.
type NodeID string

// Node represents a single unit in the tree.
//
// Children holds child identifiers in insertion order; the order is
// significant and survives serialization. A node never references its
// parent directly: the parent relation lives in the Tree's index
// (child id -> parent id), which keeps the node graph free of cycles.
type Node struct {
	ID   NodeID `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"` // e.g. "topic", "note", "link"

	// Children are ordered child identifiers.
	Children []NodeID `json:"children,omitempty" yaml:"children,omitempty"`

	// Metadata allows for extensible key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Children != nil {
		out.Children = make([]NodeID, len(n.Children))
		copy(out.Children, n.Children)
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// NodePatch describes a partial update to a node. Nil fields are left
// untouched; Metadata entries are merged key by key.
type NodePatch struct {
	Name     *string           `json:"name,omitempty" mapstructure:"name"`
	Type     *string           `json:"type,omitempty" mapstructure:"type"`
	Metadata map[string]string `json:"metadata,omitempty" mapstructure:"metadata"`

	// RemoveMetadata lists metadata keys to delete. Compensations use
	// it to undo an update that introduced a key the node never had.
	RemoveMetadata []string `json:"remove_metadata,omitempty" mapstructure:"remove_metadata"`
}

// Fields returns the names of the fields the patch touches. Metadata
// keys are reported individually ("metadata.color") so that two patches
// to different keys of the same node do not count as overlapping.
func (p NodePatch) Fields() []string {
	var fields []string
	if p.Name != nil {
		fields = append(fields, "name")
	}
	if p.Type != nil {
		fields = append(fields, "type")
	}
	for k := range p.Metadata {
		fields = append(fields, "metadata."+k)
	}
	for _, k := range p.RemoveMetadata {
		fields = append(fields, "metadata."+k)
	}
	return fields
}

// Overlaps reports whether two patches touch at least one common field.
func (p NodePatch) Overlaps(other NodePatch) bool {
	mine := make(map[string]struct{})
	for _, f := range p.Fields() {
		mine[f] = struct{}{}
	}
	for _, f := range other.Fields() {
		if _, ok := mine[f]; ok {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the patch changes nothing.
func (p NodePatch) IsEmpty() bool {
	return p.Name == nil && p.Type == nil && len(p.Metadata) == 0 && len(p.RemoveMetadata) == 0
}
