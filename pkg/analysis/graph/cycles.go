package graph

import (
	"fmt"
	"strings"

	"github.com/harekrishnarai/flowscope/pkg/parser"
	"github.com/harekrishnarai/flowscope/pkg/rules"
)

// CycleRuleID tags circular dependency findings
const CycleRuleID = "CIRCULAR_DEPENDENCY"

// DetectCycles reports every cycle reachable by depth-first search, each
// once, as the job sequence from the re-entered job through the job that
// closes the loop. A job that needs itself is a one-element cycle.
func DetectCycles(g *Graph) [][]string {
	const (
		unvisited = iota
		onStack
		done
	)

	state := make([]int, g.Len())
	var (
		path   []int
		cycles [][]string
		seen   = make(map[string]bool)
	)

	var visit func(n int)
	visit = func(n int) {
		state[n] = onStack
		path = append(path, n)

		for _, next := range g.Successors(n) {
			switch state[next] {
			case unvisited:
				visit(next)
			case onStack:
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := g.names(path[start:])
				key := canonical(cycle)
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		path = path[:len(path)-1]
		state[n] = done
	}

	for n := 0; n < g.Len(); n++ {
		if state[n] == unvisited {
			visit(n)
		}
	}

	return cycles
}

// canonical rotates a cycle to start at its smallest member
func canonical(cycle []string) string {
	first := 0
	for i, id := range cycle {
		if id < cycle[first] {
			first = i
		}
	}
	rotated := append(append([]string(nil), cycle[first:]...), cycle[:first]...)
	return strings.Join(rotated, "\x00")
}

// CycleFindings turns each cycle into one structural error finding located
// at the first job of the cycle
func CycleFindings(workflow parser.WorkflowFile, cycles [][]string) []rules.Finding {
	findings := make([]rules.Finding, 0, len(cycles))
	for _, cycle := range cycles {
		loop := strings.Join(append(append([]string(nil), cycle...), cycle[0]), " -> ")
		description := fmt.Sprintf("Jobs form a dependency cycle: %s", loop)
		if len(cycle) == 1 {
			description = fmt.Sprintf("Job %s depends on itself", cycle[0])
		}
		findings = append(findings, rules.Finding{
			RuleID:      CycleRuleID,
			Category:    rules.Structure,
			Severity:    rules.Error,
			Title:       "Circular job dependency",
			Description: description,
			FilePath:    workflow.Path,
			Location:    &rules.Location{Line: workflow.JobLines[cycle[0]], JobID: cycle[0]},
			Remediation: "Remove one of the needs entries so the jobs form a directed acyclic graph",
			Evidence:    loop,
		})
	}
	return findings
}
