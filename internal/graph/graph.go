// Package graph models the per-cycle dependency graph of function
// invocations and builds it from value requirements.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"risk-view-engine/internal/domain"
)

var (
	// ErrCycle is returned when the graph is not acyclic.
	ErrCycle = errors.New("dependency graph contains a cycle")

	// ErrDuplicateNode is returned when a node identifier is added twice.
	ErrDuplicateNode = errors.New("duplicate dependency node")

	// ErrDuplicateProducer is returned when two nodes produce the same value.
	ErrDuplicateProducer = errors.New("value produced by more than one node")
)

// DependencyNode is one function invocation on one target.
type DependencyNode struct {
	ID         string
	FunctionID string
	Target     domain.TargetSpecification
	Inputs     []domain.ValueSpecification
	Outputs    []domain.ValueSpecification
}

// NodeID returns the identifier used for the invocation of functionID on target.
func NodeID(functionID string, target domain.TargetSpecification) string {
	return functionID + "@" + target.String()
}

// TerminalOutput ties a requested value to the specification satisfying it.
type TerminalOutput struct {
	Requirement   domain.ValueRequirement
	Specification domain.ValueSpecification
}

// DependencyGraph is the validated DAG of one calculation configuration.
// Edges run from the producer of a value to every node consuming it. Inputs
// with no producer are market data and must be in the cache before
// execution.
type DependencyGraph struct {
	configuration string

	nodes     map[string]*DependencyNode
	order     []string
	producers map[string]string

	dependencies map[string][]string
	dependents   map[string][]string
	topo         []string
	marketData   []domain.ValueSpecification

	terminal    []TerminalOutput
	unsatisfied []Unsatisfied
	validated   bool
}

// Unsatisfied records a requested value the builder could not plan.
type Unsatisfied struct {
	Requirement    domain.ValueRequirement
	TargetNotFound bool
	Reason         string
}

// New creates an empty graph for a calculation configuration.
func New(configuration string) *DependencyGraph {
	return &DependencyGraph{
		configuration: configuration,
		nodes:         make(map[string]*DependencyNode),
		producers:     make(map[string]string),
	}
}

// Configuration returns the calculation configuration name.
func (g *DependencyGraph) Configuration() string { return g.configuration }

// AddNode adds a node. Adding invalidates any previous validation.
func (g *DependencyGraph) AddNode(n *DependencyNode) error {
	if _, dup := g.nodes[n.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	for _, out := range n.Outputs {
		if other, dup := g.producers[out.Key()]; dup {
			return fmt.Errorf("%w: %s by %s and %s", ErrDuplicateProducer, out, other, n.ID)
		}
	}
	for _, out := range n.Outputs {
		g.producers[out.Key()] = n.ID
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	g.validated = false
	return nil
}

// AddTerminalOutput marks spec as the answer to a requested value.
func (g *DependencyGraph) AddTerminalOutput(req domain.ValueRequirement, spec domain.ValueSpecification) {
	g.terminal = append(g.terminal, TerminalOutput{Requirement: req, Specification: spec})
}

// AddUnsatisfied records a requested value that could not be planned.
func (g *DependencyGraph) AddUnsatisfied(u Unsatisfied) {
	g.unsatisfied = append(g.unsatisfied, u)
}

// Validate derives the edges and checks that the graph is acyclic using
// Kahn's algorithm. Ties are broken by insertion order so the topological
// order is deterministic.
func (g *DependencyGraph) Validate() error {
	g.dependencies = make(map[string][]string, len(g.nodes))
	g.dependents = make(map[string][]string, len(g.nodes))
	g.marketData = nil
	seenMarket := make(map[string]struct{})

	for _, id := range g.order {
		n := g.nodes[id]
		seenDep := make(map[string]struct{})
		for _, in := range n.Inputs {
			producer, ok := g.producers[in.Key()]
			if !ok {
				if _, dup := seenMarket[in.Key()]; !dup {
					seenMarket[in.Key()] = struct{}{}
					g.marketData = append(g.marketData, in)
				}
				continue
			}
			if _, dup := seenDep[producer]; dup {
				continue
			}
			seenDep[producer] = struct{}{}
			g.dependencies[id] = append(g.dependencies[id], producer)
			g.dependents[producer] = append(g.dependents[producer], id)
		}
	}

	position := make(map[string]int, len(g.order))
	for i, id := range g.order {
		position[id] = i
	}
	indegree := make(map[string]int, len(g.nodes))
	var ready []string
	for _, id := range g.order {
		indegree[id] = len(g.dependencies[id])
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	topo := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		topo = append(topo, id)

		var released []string
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Slice(released, func(i, j int) bool { return position[released[i]] < position[released[j]] })
		ready = append(ready, released...)
	}

	if len(topo) != len(g.nodes) {
		var stuck []string
		for _, id := range g.order {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return fmt.Errorf("%w: %v", ErrCycle, stuck)
	}

	g.topo = topo
	g.validated = true
	return nil
}

// Validated reports whether Validate succeeded since the last change.
func (g *DependencyGraph) Validated() bool { return g.validated }

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int { return len(g.nodes) }

// Node returns the node with the identifier.
func (g *DependencyGraph) Node(id string) (*DependencyNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in insertion order.
func (g *DependencyGraph) Nodes() []*DependencyNode {
	out := make([]*DependencyNode, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Dependencies returns the producers of id's inputs.
func (g *DependencyGraph) Dependencies(id string) []string { return g.dependencies[id] }

// Dependents returns the consumers of id's outputs.
func (g *DependencyGraph) Dependents(id string) []string { return g.dependents[id] }

// TopologicalOrder returns the node identifiers producers first.
func (g *DependencyGraph) TopologicalOrder() []string { return g.topo }

// Producer returns the node producing spec.
func (g *DependencyGraph) Producer(spec domain.ValueSpecification) (string, bool) {
	id, ok := g.producers[spec.Key()]
	return id, ok
}

// MarketDataRequirements returns the inputs no node produces.
func (g *DependencyGraph) MarketDataRequirements() []domain.ValueSpecification { return g.marketData }

// TerminalOutputs returns the requested values in request order.
func (g *DependencyGraph) TerminalOutputs() []TerminalOutput { return g.terminal }

// Unsatisfied returns the requested values that could not be planned.
func (g *DependencyGraph) Unsatisfied() []Unsatisfied { return g.unsatisfied }

// IsTerminal reports whether spec answers a requested value.
func (g *DependencyGraph) IsTerminal(spec domain.ValueSpecification) bool {
	for _, t := range g.terminal {
		if t.Specification.Equal(spec) {
			return true
		}
	}
	return false
}
