package calc

import (
	"sort"

	"risk-view-engine/internal/graph"
	"risk-view-engine/internal/stats"
)

// plannedJob is a batch of ready nodes bound to one invoker.
type plannedJob struct {
	invoker int
	nodes   []*graph.DependencyNode
	cost    float64
}

// nodeCost estimates the cost of one node from its function's statistics.
func nodeCost(costs stats.CostSource, configuration string, n *graph.DependencyNode) float64 {
	c := costs.Estimate(configuration, n.FunctionID)
	return c.InvocationCost +
		c.DataInputCost*float64(len(n.Inputs)) +
		c.DataOutputCost*float64(len(n.Outputs))
}

// schedule assigns ready nodes to invokers using longest-processing-time
// first: the most expensive node goes to the invoker whose load per unit of
// capacity would be lowest after taking it. Each invoker's share is then cut
// into jobs of at most maxItems nodes. loads carries the estimated cost of
// work already in flight and is not modified.
func schedule(
	ready []*graph.DependencyNode,
	capacities []int,
	loads []float64,
	costs stats.CostSource,
	configuration string,
	maxItems int,
) []plannedJob {
	if len(ready) == 0 || len(capacities) == 0 {
		return nil
	}
	if maxItems <= 0 {
		maxItems = 1
	}

	type weighted struct {
		node *graph.DependencyNode
		cost float64
	}
	items := make([]weighted, len(ready))
	for i, n := range ready {
		items[i] = weighted{node: n, cost: nodeCost(costs, configuration, n)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].cost != items[j].cost {
			return items[i].cost > items[j].cost
		}
		return items[i].node.ID < items[j].node.ID
	})

	projected := make([]float64, len(capacities))
	copy(projected, loads)
	assigned := make([][]weighted, len(capacities))

	for _, it := range items {
		best := 0
		bestScore := 0.0
		for i, capacity := range capacities {
			if capacity <= 0 {
				capacity = 1
			}
			score := (projected[i] + it.cost) / float64(capacity)
			if i == 0 || score < bestScore {
				best, bestScore = i, score
			}
		}
		projected[best] += it.cost
		assigned[best] = append(assigned[best], it)
	}

	var jobs []plannedJob
	for inv, share := range assigned {
		for start := 0; start < len(share); start += maxItems {
			end := start + maxItems
			if end > len(share) {
				end = len(share)
			}
			job := plannedJob{invoker: inv}
			for _, it := range share[start:end] {
				job.nodes = append(job.nodes, it.node)
				job.cost += it.cost
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}
