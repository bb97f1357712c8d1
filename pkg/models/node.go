// Package models defines the core domain models for drip-campaign flow execution.
package models

// NodeKind is the closed set of node types a campaign graph may contain.
// Dispatch on NodeKind is always an exhaustive switch; adding a kind here
// must be accompanied by a handler in the flow engine.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindAction    NodeKind = "action"
	NodeKindWait      NodeKind = "wait"
	NodeKindCondition NodeKind = "condition"
	NodeKindEnd       NodeKind = "end"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindStart, NodeKindAction, NodeKindWait, NodeKindCondition, NodeKindEnd:
		return true
	}

	return false
}

// Branch labels an outgoing connection. Condition nodes fan out on yes/no,
// everything else follows default.
type Branch string

const (
	BranchDefault Branch = "default"
	BranchYes     Branch = "yes"
	BranchNo      Branch = "no"
)

// Node is one step in a campaign graph.
type Node struct {
	ID     string         `json:"id"     validate:"required"`
	Kind   NodeKind       `json:"kind"   validate:"required"`
	Config map[string]any `json:"config"`
}

// Connection is a directed labeled edge between two nodes.
type Connection struct {
	FromNode string `json:"from_node" validate:"required"`
	ToNode   string `json:"to_node"   validate:"required"`
	Branch   Branch `json:"branch"`
}

// ConfigString returns a string config value, or the empty string.
func (n *Node) ConfigString(key string) string {
	v, ok := n.Config[key]
	if !ok {
		return ""
	}

	s, _ := v.(string)

	return s
}

// ConfigInt returns an integer config value. JSON decoding produces float64
// for numbers, so both representations are accepted.
func (n *Node) ConfigInt(key string) (int, bool) {
	switch v := n.Config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}

	return 0, false
}
