// Package graph reconstructs the job dependency graph of a workflow and
// derives its structural properties.
package graph

// EdgeKind says which workflow construct produced an edge
type EdgeKind string

const (
	// ExplicitOrder comes from a job's needs list
	ExplicitOrder EdgeKind = "explicit-order"
	// Artifact pairs an upload-artifact step with a download-artifact step
	Artifact EdgeKind = "artifact"
	// Output comes from a needs.<job>.outputs.<name> reference
	Output EdgeKind = "output"
	// EnvironmentShadow marks a variable that shadows a workflow-level one.
	// It is reported as a finding and never placed on an edge.
	EnvironmentShadow EdgeKind = "environment-shadow"
)

// Edge is a directed relation from a dependency to its dependent
type Edge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Detail string   `json:"detail,omitempty"`
}

// Graph is an arena of jobs addressed by index, in declaration order.
// Adjacency lists hold successor indices (execution direction).
type Graph struct {
	ids   []string
	index map[string]int
	succ  [][]int
	pred  [][]int
}

// New builds a graph over jobIDs from the edges whose kind is in kinds.
// Edges naming unknown jobs are skipped; parallel edges collapse to one.
// With no kinds given, every edge is used.
func New(jobIDs []string, edges []Edge, kinds ...EdgeKind) *Graph {
	g := &Graph{
		ids:   append([]string(nil), jobIDs...),
		index: make(map[string]int, len(jobIDs)),
		succ:  make([][]int, len(jobIDs)),
		pred:  make([][]int, len(jobIDs)),
	}
	for i, id := range jobIDs {
		g.index[id] = i
	}

	accept := func(k EdgeKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, want := range kinds {
			if k == want {
				return true
			}
		}
		return false
	}

	seen := make(map[[2]int]bool)
	for _, e := range edges {
		if !accept(e.Kind) {
			continue
		}
		from, ok := g.index[e.From]
		if !ok {
			continue
		}
		to, ok := g.index[e.To]
		if !ok {
			continue
		}
		key := [2]int{from, to}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.succ[from] = append(g.succ[from], to)
		g.pred[to] = append(g.pred[to], from)
	}

	return g
}

// Len returns the number of jobs
func (g *Graph) Len() int {
	return len(g.ids)
}

// ID returns the job identifier at index i
func (g *Graph) ID(i int) string {
	return g.ids[i]
}

// Index returns the arena index of a job
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Successors returns the jobs that depend on job i
func (g *Graph) Successors(i int) []int {
	return g.succ[i]
}

// InDegree counts incoming edges of job i
func (g *Graph) InDegree(i int) int {
	return len(g.pred[i])
}

// OutDegree counts outgoing edges of job i
func (g *Graph) OutDegree(i int) int {
	return len(g.succ[i])
}

func (g *Graph) names(path []int) []string {
	out := make([]string, len(path))
	for i, n := range path {
		out[i] = g.ids[n]
	}
	return out
}
