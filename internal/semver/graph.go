package semver

import (
	"fmt"
	"sort"
)

// Dependency is a single declared requirement on another plugin.
type Dependency struct {
	Name        string
	Requirement Requirement
	Required    bool
}

// Node is the minimal input the resolver needs per plugin: its identity,
// version, tie-break priority, and declared dependencies.
type Node struct {
	Name         string
	Version      Version
	LoadPriority int32
	Dependencies []Dependency
}

// CycleError reports a dependency cycle as the ordered list of names
// visited, the first name repeated at the end, e.g. ["A","B","C","A"].
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("semver: dependency cycle detected: %v", e.Cycle)
}

// UnsatisfiedDependencyError is returned when a required dependency has no
// matching registered node at all.
type UnsatisfiedDependencyError struct {
	Plugin     string
	Dependency string
}

func (e *UnsatisfiedDependencyError) Error() string {
	return fmt.Sprintf("semver: %s requires %s, which is not registered", e.Plugin, e.Dependency)
}

// VersionConflictError is returned when the dependency exists but its
// version does not satisfy the requirement.
type VersionConflictError struct {
	Plugin     string
	Dependency string
	Have       Version
	Want       Requirement
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("semver: %s requires %s %s, have %s", e.Plugin, e.Dependency, e.Want, e.Have)
}

type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully processed
)

// Resolve validates dependency edges among nodes, detects cycles, and
// returns the names in an order honoring every dependency edge. Among nodes
// eligible to emit at the same step, ties break by descending LoadPriority,
// then lexicographic name.
func Resolve(nodes []Node) ([]string, error) {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	// Validate dependency requirements before doing any graph work, so
	// missing/unsatisfied required dependencies are reported precisely.
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			target, ok := byName[dep.Name]
			if !ok {
				if dep.Required {
					return nil, &UnsatisfiedDependencyError{Plugin: n.Name, Dependency: dep.Name}
				}
				continue
			}
			if !dep.Requirement.Satisfies(target.Version) {
				if dep.Required {
					return nil, &VersionConflictError{
						Plugin:     n.Name,
						Dependency: dep.Name,
						Have:       target.Version,
						Want:       dep.Requirement,
					}
				}
			}
		}
	}

	colors := make(map[string]color, len(nodes))
	var order []string
	var cyclePath []string

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			// Found a back-edge: report the cycle starting at name.
			start := 0
			for i, p := range cyclePath {
				if p == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, cyclePath[start:]...), name)
			return &CycleError{Cycle: cycle}
		}
		colors[name] = gray
		cyclePath = append(cyclePath, name)

		n := byName[name]
		deps := satisfiedDepNames(n, byName)
		sort.Strings(deps) // deterministic visit order among a node's own deps
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		colors[name] = black
		cyclePath = cyclePath[:len(cyclePath)-1]
		order = append(order, name)
		return nil
	}

	// Emit order must honor (descending LoadPriority, name) among roots too,
	// so sort the starting set before the DFS fan-out.
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	sort.Slice(names, func(i, j int) bool {
		return less(byName[names[i]], byName[names[j]])
	})

	for _, name := range names {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}

	return kahnOrder(byName, order), nil
}

// satisfiedDepNames returns the dependency names of n that resolved to a
// registered, satisfying node (unsatisfied *optional* deps are simply
// ignored for ordering purposes; unsatisfied required deps already failed
// validation above).
func satisfiedDepNames(n Node, byName map[string]Node) []string {
	var out []string
	for _, dep := range n.Dependencies {
		target, ok := byName[dep.Name]
		if !ok || !dep.Requirement.Satisfies(target.Version) {
			continue
		}
		out = append(out, dep.Name)
	}
	return out
}

func less(a, b Node) bool {
	if a.LoadPriority != b.LoadPriority {
		return a.LoadPriority > b.LoadPriority // descending priority
	}
	return a.Name < b.Name
}

// kahnOrder derives the final order using Kahn's algorithm over the
// satisfied dependency edges so that ties at each emittable step are broken
// deterministically by (descending LoadPriority, name), rather than by DFS
// visit order. The DFS post-order itself is not used.
func kahnOrder(byName map[string]Node, dfsPostOrder []string) []string {
	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name, n := range byName {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range satisfiedDepNames(n, byName) {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := make([]string, 0, len(byName))
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return less(byName[ready[i]], byName[ready[j]])
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	_ = dfsPostOrder // cycle already ruled out by the DFS pass above
	return order
}
