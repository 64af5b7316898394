package flow

import (
	"fmt"
	"strings"
)

// Resolve computes a valid execution order over the step dependency graph.
// It fails fast on cycles (a hard registration precondition) and otherwise
// returns a topological order via Kahn's algorithm. When several steps are
// ready at the same time, declaration order breaks the tie, so the result is
// deterministic for a given definition.
func Resolve(steps []Step, deps map[string][]string) ([]string, error) {
	if len(steps) == 0 {
		return nil, NewDefinitionError("", "flow must contain at least one step")
	}

	index := make(map[string]int, len(steps))
	for i, s := range steps {
		index[s.ID] = i
	}

	if cycle := findCycle(steps, deps); cycle != nil {
		return nil, NewDefinitionError("",
			fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")))
	}

	// In-degree per step, counting only edges between known steps. Unknown
	// references are a Validate concern, not an ordering one.
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		inDegree[s.ID] = 0
	}
	for _, s := range steps {
		for _, dep := range deps[s.ID] {
			if _, ok := index[dep]; !ok {
				continue
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	// Ready queue kept sorted by declaration index for the stable tie-break.
	var ready []string
	insert := func(id string) {
		pos := len(ready)
		for i, other := range ready {
			if index[id] < index[other] {
				pos = i
				break
			}
		}
		ready = append(ready, "")
		copy(ready[pos+1:], ready[pos:])
		ready[pos] = id
	}

	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	order := make([]string, 0, len(steps))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				insert(dependent)
			}
		}
	}

	if len(order) != len(steps) {
		// Unreachable after findCycle, kept as a guard against graph edits
		// between the two passes.
		return nil, NewDefinitionError("", "circular dependency prevents ordering")
	}
	return order, nil
}

// findCycle runs a depth-first traversal with a recursion-stack set and
// returns one cycle as a path, or nil when the graph is acyclic.
func findCycle(steps []Step, deps map[string][]string) []string {
	known := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		known[s.ID] = struct{}{}
	}

	visited := make(map[string]bool, len(steps))
	onStack := make(map[string]bool, len(steps))
	parent := make(map[string]string, len(steps))

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		onStack[id] = true

		for _, dep := range deps[id] {
			if _, ok := known[dep]; !ok {
				continue
			}
			if !visited[dep] {
				parent[dep] = id
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				cycle := []string{dep}
				for current := id; current != dep; current = parent[current] {
					cycle = append([]string{current}, cycle...)
				}
				return append(cycle, dep)
			}
		}

		onStack[id] = false
		return nil
	}

	for _, s := range steps {
		if !visited[s.ID] {
			if cycle := dfs(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
