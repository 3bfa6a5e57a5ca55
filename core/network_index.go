package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotWired is returned when a device port has no node behind it.
	// Valve logic treats it as "skip", never as a failure.
	ErrNotWired       = errors.New("port not wired")
	ErrDeviceExists   = errors.New("device already wired")
	ErrDeviceBadInput = errors.New("invalid device wiring")
)

// NetworkIndex maps (device, port) pairs to the pipe nodes backing them.
// Lookups are plain map reads so callers can resolve ports on every
// command and every tick instead of holding node pointers across
// rebuilds.
type NetworkIndex struct {
	mu sync.RWMutex

	devices map[string]map[string]*PipeNode
}

// NewNetworkIndex creates an empty index.
func NewNetworkIndex() *NetworkIndex {
	return &NetworkIndex{
		devices: make(map[string]map[string]*PipeNode),
	}
}

// WireDevice creates one node per port for deviceID and returns them in
// the order given.
func (ni *NetworkIndex) WireDevice(deviceID string, ports ...string) ([]*PipeNode, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device ID", ErrDeviceBadInput)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: device %q has no ports", ErrDeviceBadInput, deviceID)
	}

	byPort := make(map[string]*PipeNode, len(ports))
	out := make([]*PipeNode, 0, len(ports))
	for _, port := range ports {
		if port == "" {
			return nil, fmt.Errorf("%w: device %q has an empty port name", ErrDeviceBadInput, deviceID)
		}
		if _, dup := byPort[port]; dup {
			return nil, fmt.Errorf("%w: device %q lists port %q twice", ErrDeviceBadInput, deviceID, port)
		}
		node := NewPipeNode(deviceID, port)
		byPort[port] = node
		out = append(out, node)
	}

	ni.mu.Lock()
	defer ni.mu.Unlock()

	if _, exists := ni.devices[deviceID]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDeviceExists, deviceID)
	}
	ni.devices[deviceID] = byPort
	return out, nil
}

// Node returns the node wired to deviceID's port.
func (ni *NetworkIndex) Node(deviceID, port string) (*PipeNode, error) {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	return ni.nodeLocked(deviceID, port)
}

// Resolve looks up two ports of one device. Either both nodes are
// returned or neither is.
func (ni *NetworkIndex) Resolve(deviceID, portA, portB string) (*PipeNode, *PipeNode, error) {
	ni.mu.RLock()
	defer ni.mu.RUnlock()

	a, err := ni.nodeLocked(deviceID, portA)
	if err != nil {
		return nil, nil, err
	}
	b, err := ni.nodeLocked(deviceID, portB)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// RemoveDevice unwires deviceID and excises its nodes from every
// remaining node's reachable set, including one-way edges into them.
func (ni *NetworkIndex) RemoveDevice(deviceID string) error {
	ni.mu.Lock()
	defer ni.mu.Unlock()

	removed, ok := ni.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: device %q", ErrNotWired, deviceID)
	}
	delete(ni.devices, deviceID)

	for _, ports := range ni.devices {
		for _, node := range ports {
			for _, gone := range removed {
				node.RemoveReachable(gone)
			}
		}
	}
	for _, gone := range removed {
		gone.reachable = make(map[NodeID]*PipeNode)
	}
	return nil
}

// NodesForDevice returns the device's nodes ordered by port name.
func (ni *NetworkIndex) NodesForDevice(deviceID string) []*PipeNode {
	ni.mu.RLock()
	defer ni.mu.RUnlock()

	ports, ok := ni.devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]*PipeNode, 0, len(ports))
	for _, node := range ports {
		out = append(out, node)
	}
	sortNodes(out)
	return out
}

// AllNodes returns every wired node ordered by device and port.
func (ni *NetworkIndex) AllNodes() []*PipeNode {
	ni.mu.RLock()
	defer ni.mu.RUnlock()

	out := make([]*PipeNode, 0, len(ni.devices)*2)
	for _, ports := range ni.devices {
		for _, node := range ports {
			out = append(out, node)
		}
	}
	sortNodes(out)
	return out
}

// DeviceIDs returns the sorted IDs of all wired devices.
func (ni *NetworkIndex) DeviceIDs() []string {
	ni.mu.RLock()
	defer ni.mu.RUnlock()

	out := make([]string, 0, len(ni.devices))
	for id := range ni.devices {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of wired nodes.
func (ni *NetworkIndex) Len() int {
	ni.mu.RLock()
	defer ni.mu.RUnlock()

	n := 0
	for _, ports := range ni.devices {
		n += len(ports)
	}
	return n
}

// Clear drops every device and node.
func (ni *NetworkIndex) Clear() {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	ni.devices = make(map[string]map[string]*PipeNode)
}

// NOTE: caller must hold ni.mu.
func (ni *NetworkIndex) nodeLocked(deviceID, port string) (*PipeNode, error) {
	ports, ok := ni.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrNotWired, deviceID)
	}
	node, ok := ports[port]
	if !ok {
		return nil, fmt.Errorf("%w: device %q port %q", ErrNotWired, deviceID, port)
	}
	return node, nil
}
