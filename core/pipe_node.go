package core

import (
	"sort"

	"github.com/google/uuid"
)

// NodeID is the opaque handle of a pipe node.
type NodeID = uuid.UUID

// PipeNode is one vertex of the pipe network: the gas behind a single
// device port plus the set of nodes it can currently exchange gas with.
//
// Reachability is directed. Connect and Disconnect keep it symmetric;
// the raw AddReachable / RemoveReachable primitives are left exported for
// devices that want a one-way effect.
//
// NOTE: reachable sets are not synchronised. Mutate them from the
// simulation goroutine or under the owning ScenarioState lock.
type PipeNode struct {
	ID       NodeID
	DeviceID string
	Port     string
	Air      *GasMixture

	reachable map[NodeID]*PipeNode
}

// NewPipeNode allocates a node with a fresh ID and an empty mixture.
func NewPipeNode(deviceID, port string) *PipeNode {
	return &PipeNode{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Port:      port,
		Air:       NewGasMixture(0),
		reachable: make(map[NodeID]*PipeNode),
	}
}

// Key returns "device:port", the form used in logs and snapshots.
func (n *PipeNode) Key() string {
	return n.DeviceID + ":" + n.Port
}

// Pressure returns the pressure of the node's gas mixture.
func (n *PipeNode) Pressure() float64 {
	if n == nil {
		return 0
	}
	return n.Air.Pressure()
}

// AddReachable marks other as reachable from n. Adding an existing edge,
// a nil node or n itself is a no-op.
func (n *PipeNode) AddReachable(other *PipeNode) {
	if n == nil || other == nil || other == n {
		return
	}
	if n.reachable == nil {
		n.reachable = make(map[NodeID]*PipeNode)
	}
	n.reachable[other.ID] = other
}

// RemoveReachable drops other from n's reachable set if present.
func (n *PipeNode) RemoveReachable(other *PipeNode) {
	if n == nil || other == nil {
		return
	}
	delete(n.reachable, other.ID)
}

// IsReachable reports whether other is in n's reachable set.
func (n *PipeNode) IsReachable(other *PipeNode) bool {
	if n == nil || other == nil {
		return false
	}
	_, ok := n.reachable[other.ID]
	return ok
}

// Reachable returns the reachable set ordered by device and port.
func (n *PipeNode) Reachable() []*PipeNode {
	if n == nil {
		return nil
	}
	out := make([]*PipeNode, 0, len(n.reachable))
	for _, other := range n.reachable {
		out = append(out, other)
	}
	sortNodes(out)
	return out
}

// Connect makes a and b mutually reachable.
func Connect(a, b *PipeNode) {
	a.AddReachable(b)
	b.AddReachable(a)
}

// Disconnect removes reachability between a and b in both directions.
func Disconnect(a, b *PipeNode) {
	a.RemoveReachable(b)
	b.RemoveReachable(a)
}

func sortNodes(nodes []*PipeNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].DeviceID != nodes[j].DeviceID {
			return nodes[i].DeviceID < nodes[j].DeviceID
		}
		if nodes[i].Port != nodes[j].Port {
			return nodes[i].Port < nodes[j].Port
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
}
