package graph

// PathAnalysis classifies jobs by position in the execution graph
type PathAnalysis struct {
	Roots         []string   `json:"roots"`
	Leaves        []string   `json:"leaves"`
	Isolated      []string   `json:"isolated"`
	CriticalPaths [][]string `json:"critical_paths"`
}

// AnalyzePaths finds roots, leaves and isolated jobs, and the longest path
// from each root to a leaf. Ties keep the first path found when successors
// are walked in declaration order. Single-job paths are not recorded.
func AnalyzePaths(g *Graph) PathAnalysis {
	var pa PathAnalysis
	var roots []int

	for n := 0; n < g.Len(); n++ {
		in, out := g.InDegree(n), g.OutDegree(n)
		if in == 0 {
			roots = append(roots, n)
			pa.Roots = append(pa.Roots, g.ID(n))
		}
		if out == 0 {
			pa.Leaves = append(pa.Leaves, g.ID(n))
		}
		if in == 0 && out == 0 {
			pa.Isolated = append(pa.Isolated, g.ID(n))
		}
	}

	longest := longestFromDFS
	if len(DetectCycles(g)) == 0 {
		longest = newMemoLongest(g).from
	}

	for _, root := range roots {
		path := longest(g, root)
		if len(path) > 1 {
			pa.CriticalPaths = append(pa.CriticalPaths, g.names(path))
		}
	}

	return pa
}

// maxPathVisits bounds the simple-path walk on cyclic graphs, where the
// number of simple paths grows factorially with the job count
const maxPathVisits = 1 << 16

// longestFromDFS walks simple paths from start, never re-entering a job
// already on the current path. After maxPathVisits jobs it returns the
// longest path seen so far.
func longestFromDFS(g *Graph, start int) []int {
	var best []int
	onPath := make([]bool, g.Len())
	var path []int
	visits := 0

	var walk func(n int)
	walk = func(n int) {
		visits++
		onPath[n] = true
		path = append(path, n)

		extended := false
		for _, next := range g.Successors(n) {
			if onPath[next] {
				continue
			}
			if visits >= maxPathVisits {
				break
			}
			extended = true
			walk(next)
		}
		if !extended && len(path) > len(best) {
			best = append(best[:0:0], path...)
		}

		path = path[:len(path)-1]
		onPath[n] = false
	}

	walk(start)
	return best
}

// memoLongest computes longest paths on an acyclic graph in linear time,
// choosing the same path the depth-first walk would
type memoLongest struct {
	g    *Graph
	next []int
	size []int
}

func newMemoLongest(g *Graph) *memoLongest {
	m := &memoLongest{g: g, next: make([]int, g.Len()), size: make([]int, g.Len())}
	for i := range m.next {
		m.next[i] = -1
	}
	return m
}

func (m *memoLongest) length(n int) int {
	if m.size[n] > 0 {
		return m.size[n]
	}
	best := 0
	for _, s := range m.g.Successors(n) {
		if l := m.length(s); l > best {
			best = l
			m.next[n] = s
		}
	}
	m.size[n] = best + 1
	return m.size[n]
}

func (m *memoLongest) from(_ *Graph, start int) []int {
	m.length(start)
	path := []int{start}
	for n := m.next[start]; n >= 0; n = m.next[n] {
		path = append(path, n)
	}
	return path
}
