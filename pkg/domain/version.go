package domain

// Marker is a position within an event log. Reconciliation compares a
// local marker against the server's to detect divergence: local events
// with Seq greater than the last server-acknowledged sequence are
// unconfirmed.
type Marker struct {
	Seq    uint64 `json:"seq"`
	Origin Origin `json:"origin"`
}

// Behind reports whether m is strictly behind other.
func (m Marker) Behind(other Marker) bool {
	return m.Seq < other.Seq
}
