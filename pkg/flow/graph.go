// Package flow contains the campaign graph loader and the flow execution
// engine that drives each lead through it.
package flow

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dripflow/dripflow/pkg/models"
)

// Graph is the validated, read-only form of a campaign definition. It is
// rebuilt from the stored campaign at the start of every run and resume, so
// no stale in-memory copy survives a restart.
type Graph struct {
	nodes     map[string]*models.Node
	adjacency map[string][]*models.Connection
	reverse   map[string][]*models.Connection
	startNode string
}

// Load indexes and validates a campaign's node and connection lists. It is
// pure: no side effects, no mutation of the campaign.
func Load(campaign *models.Campaign) (*Graph, error) {
	g := &Graph{
		nodes:     make(map[string]*models.Node, len(campaign.Nodes)),
		adjacency: make(map[string][]*models.Connection),
		reverse:   make(map[string][]*models.Connection),
	}

	for _, node := range campaign.Nodes {
		if node.ID == "" {
			return nil, NewStructuralError("", "node with empty id")
		}

		if !node.Kind.Valid() {
			return nil, NewStructuralError(node.ID, fmt.Sprintf("unknown node kind %q", node.Kind))
		}

		if _, dup := g.nodes[node.ID]; dup {
			return nil, NewStructuralError(node.ID, "duplicate node id")
		}

		g.nodes[node.ID] = node

		if node.Kind == models.NodeKindStart {
			if g.startNode != "" {
				return nil, NewStructuralError(node.ID, "more than one start node")
			}

			g.startNode = node.ID
		}
	}

	if g.startNode == "" {
		return nil, NewStructuralError("", "no start node")
	}

	for _, conn := range campaign.Connections {
		if _, ok := g.nodes[conn.FromNode]; !ok {
			return nil, NewStructuralError(conn.FromNode, "connection from unknown node")
		}

		if _, ok := g.nodes[conn.ToNode]; !ok {
			return nil, NewStructuralError(conn.ToNode, "connection to unknown node")
		}

		g.adjacency[conn.FromNode] = append(g.adjacency[conn.FromNode], conn)
		g.reverse[conn.ToNode] = append(g.reverse[conn.ToNode], conn)
	}

	if err := g.validateConditions(); err != nil {
		return nil, err
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	if err := g.validateEndReachable(); err != nil {
		return nil, err
	}

	return g, nil
}

// StartNode returns the id of the single start node.
func (g *Graph) StartNode() string {
	return g.startNode
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *models.Node {
	return g.nodes[id]
}

// Successor returns the target of the outgoing connection labeled with the
// given branch. End nodes have none.
func (g *Graph) Successor(nodeID string, branch models.Branch) (*models.Node, bool) {
	for _, conn := range g.adjacency[nodeID] {
		b := conn.Branch
		if b == "" {
			b = models.BranchDefault
		}

		if b == branch {
			return g.nodes[conn.ToNode], true
		}
	}

	return nil, false
}

// Predecessors returns the nodes with an edge into the given node, using the
// reverse index built at load time.
func (g *Graph) Predecessors(nodeID string) []*models.Node {
	preds := make([]*models.Node, 0, len(g.reverse[nodeID]))
	for _, conn := range g.reverse[nodeID] {
		preds = append(preds, g.nodes[conn.FromNode])
	}

	return preds
}

// Reachable returns the set of node ids reachable from the given node,
// excluding the node itself unless a cycle leads back to it.
func (g *Graph) Reachable(fromID string) map[string]bool {
	reached := make(map[string]bool)

	var walk func(id string)

	walk = func(id string) {
		for _, conn := range g.adjacency[id] {
			if !reached[conn.ToNode] {
				reached[conn.ToNode] = true
				walk(conn.ToNode)
			}
		}
	}

	walk(fromID)

	return reached
}

func (g *Graph) validateConditions() error {
	for id, node := range g.nodes {
		if node.Kind != models.NodeKindCondition {
			continue
		}

		yes, hasYes := g.Successor(id, models.BranchYes)
		if !hasYes || yes == nil {
			return NewStructuralError(id, "condition node missing yes branch")
		}

		no, hasNo := g.Successor(id, models.BranchNo)
		if !hasNo || no == nil {
			return NewStructuralError(id, "condition node missing no branch")
		}

		// The no branch is the timeout path; its head must be the wait node
		// that carries the timeout duration.
		if no.Kind != models.NodeKindWait {
			return NewStructuralError(id, "condition no branch must begin with a wait node")
		}
	}

	return nil
}

// validateAcyclic rejects any cycle reachable from the start node, using the
// usual three-color depth-first search.
func (g *Graph) validateAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.nodes))

	var visit func(id string) error

	visit = func(id string) error {
		color[id] = gray

		for _, conn := range g.adjacency[id] {
			switch color[conn.ToNode] {
			case gray:
				return NewStructuralError(conn.ToNode, "cycle reachable from start node")
			case white:
				if err := visit(conn.ToNode); err != nil {
					return err
				}
			}
		}

		color[id] = black

		return nil
	}

	return visit(g.startNode)
}

func (g *Graph) validateEndReachable() error {
	for id := range g.Reachable(g.startNode) {
		if g.nodes[id].Kind == models.NodeKindEnd {
			return nil
		}
	}

	return NewStructuralError(g.startNode, "no end node reachable from start")
}

// nodeConfigSchemas validates the per-kind configuration payloads. Start and
// end nodes carry no required configuration.
var nodeConfigSchemas = map[models.NodeKind]map[string]any{
	models.NodeKindAction: {
		"type":     "object",
		"required": []string{"subject", "body"},
		"properties": map[string]any{
			"subject": map[string]any{"type": "string", "minLength": 1},
			"body":    map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.NodeKindWait: {
		"type":     "object",
		"required": []string{"amount", "unit"},
		"properties": map[string]any{
			"amount": map[string]any{"type": "integer", "minimum": 1},
			"unit":   map[string]any{"enum": []string{"minutes", "hours", "days"}},
		},
	},
	models.NodeKindCondition: {
		"type":     "object",
		"required": []string{"event"},
		"properties": map[string]any{
			"event":      map[string]any{"enum": []string{"opened", "clicked"}},
			"target_url": map[string]any{"type": "string"},
		},
	},
}

// ValidateConfigs checks every node's configuration payload against its
// kind's schema. Run at campaign creation so a bad definition is rejected
// before any lead exists; an invalid config that still slips through to
// execution fails only the lead that hits it.
func (g *Graph) ValidateConfigs() error {
	for id, node := range g.nodes {
		schema, ok := nodeConfigSchemas[node.Kind]
		if !ok {
			continue
		}

		schemaLoader := gojsonschema.NewGoLoader(schema)
		dataLoader := gojsonschema.NewGoLoader(node.Config)

		result, err := gojsonschema.Validate(schemaLoader, dataLoader)
		if err != nil {
			return NewConfigurationError(id, err.Error())
		}

		if !result.Valid() {
			return NewConfigurationError(id, result.Errors()[0].String())
		}
	}

	return nil
}
