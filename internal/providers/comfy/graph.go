package comfy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NodeID identifies a node inside one workflow graph. The wire format wants
// numeric strings, so IDs are assigned sequentially starting at "1".
type NodeID string

// Ref points at an output slot of another node.
type Ref struct {
	Node NodeID
	Slot int
}

// Input is either a literal value or a reference to another node's output.
type Input struct {
	ref *Ref
	lit any
}

// Lit wraps a literal input value.
func Lit(v any) Input {
	return Input{lit: v}
}

// Out references output slot of a previously added node.
func Out(node NodeID, slot int) Input {
	return Input{ref: &Ref{Node: node, Slot: slot}}
}

// MarshalJSON encodes references as [node_id, slot] tuples and literals as-is.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.ref != nil {
		return json.Marshal([]any{string(in.ref.Node), in.ref.Slot})
	}
	return json.Marshal(in.lit)
}

// Node is one workflow step: a class type plus its named inputs.
type Node struct {
	Kind   string
	Inputs map[string]Input
}

// Graph is a typed ComfyUI workflow. Building a graph performs no I/O; the
// same calls always produce the same wire JSON.
type Graph struct {
	nodes  map[NodeID]Node
	nextID int
}

// NewGraph returns an empty workflow graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[NodeID]Node), nextID: 1}
}

// Add appends a node and returns its assigned id.
func (g *Graph) Add(kind string, inputs map[string]Input) NodeID {
	id := NodeID(strconv.Itoa(g.nextID))
	g.nextID++
	g.nodes[id] = Node{Kind: kind, Inputs: inputs}
	return id
}

// Len reports the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node registered under id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

type wireNode struct {
	ClassType string           `json:"class_type"`
	Inputs    map[string]Input `json:"inputs"`
}

// MarshalJSON renders the numeric-string-keyed prompt object the server
// expects. encoding/json sorts map keys, so output is deterministic.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := make(map[string]wireNode, len(g.nodes))
	for id, n := range g.nodes {
		out[string(id)] = wireNode{ClassType: n.Kind, Inputs: n.Inputs}
	}
	return json.Marshal(out)
}

// Validate checks that every reference points at an existing node. Builders
// are expected to produce valid graphs; this guards hand-assembled ones.
func (g *Graph) Validate() error {
	for id, n := range g.nodes {
		for name, in := range n.Inputs {
			if in.ref == nil {
				continue
			}
			if _, ok := g.nodes[in.ref.Node]; !ok {
				return fmt.Errorf("comfy: node %s input %s references missing node %s", id, name, in.ref.Node)
			}
		}
	}
	return nil
}
