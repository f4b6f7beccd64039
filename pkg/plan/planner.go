package plan

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/installed"
)

// Planner diffs assignments against installed snapshots.
type Planner struct {
	logger logrus.FieldLogger
}

func New(logger logrus.FieldLogger) *Planner {
	return &Planner{logger: logger}
}

// Build computes the action list: the symmetric difference between
// the assignment and the snapshot, ordered so removals come first
// (dependents before prerequisites) followed by installs and upgrades
// (prerequisites before dependents). The catalog supplies dependency
// edges; identical inputs produce identical plans.
func (p *Planner) Build(selected []*catalog.Record, snapshot installed.Snapshot, cat *catalog.Catalog) []Action {
	selectedByName := make(map[string]*catalog.Record, len(selected))
	for _, r := range selected {
		selectedByName[r.Name] = r
	}

	var removals []Action
	removedNames := make(map[string]installed.Package)
	for _, name := range snapshot.Names() {
		if _, keep := selectedByName[name]; keep {
			continue
		}
		pkg := snapshot[name]
		removedNames[name] = pkg
		removals = append(removals, Action{
			Op:      Remove,
			Name:    name,
			Version: pkg.Version,
			Arch:    pkg.Arch,
		})
	}

	var changes []Action
	changedRecords := make(map[string]*catalog.Record)
	for _, r := range selected {
		prior, wasInstalled := snapshot.Get(r.Name)
		if !wasInstalled {
			changedRecords[r.Name] = r
			changes = append(changes, Action{
				Op:       Install,
				Name:     r.Name,
				Version:  r.Version,
				Arch:     r.Arch,
				Artifact: artifactOf(r),
			})
			continue
		}
		c := prior.Version.Compare(r.Version)
		if c == 0 {
			continue
		}
		op := Upgrade
		if c > 0 {
			op = Downgrade
		}
		from := prior.Version
		changedRecords[r.Name] = r
		changes = append(changes, Action{
			Op:       op,
			Name:     r.Name,
			Version:  r.Version,
			Arch:     r.Arch,
			From:     &from,
			Artifact: artifactOf(r),
		})
	}

	orderedRemovals := p.orderActions(removals, p.removalEdges(removedNames, cat))
	orderedChanges := p.orderActions(changes, p.changeEdges(changedRecords, selectedByName))

	return append(orderedRemovals, orderedChanges...)
}

// changeEdges returns prerequisite -> dependent edges among the
// install/upgrade set: a package's dependencies, and the providers of
// virtual names it depends on, must land first.
func (p *Planner) changeEdges(records map[string]*catalog.Record, selectedByName map[string]*catalog.Record) map[string][]string {
	// Virtual names provided by members of the action set.
	providers := make(map[string][]string)
	for name, r := range records {
		for _, prov := range r.Provides {
			providers[prov.Name] = append(providers[prov.Name], name)
		}
	}

	edges := make(map[string][]string)
	for name, r := range records {
		targets := make(map[string]struct{})
		for _, clause := range r.Depends {
			for _, atom := range clause {
				if atom.Name == name {
					continue
				}
				if _, ok := records[atom.Name]; ok {
					targets[atom.Name] = struct{}{}
				}
				for _, provider := range providers[atom.Name] {
					if provider != name {
						targets[provider] = struct{}{}
					}
				}
			}
		}
		for target := range targets {
			// The prerequisite points at its dependent.
			edges[target] = append(edges[target], name)
		}
	}
	sortEdges(edges)
	return edges
}

// removalEdges returns dependent -> prerequisite edges among the
// removal set: a package must be removed before the packages it
// depends on. Records for removed packages may be gone from the
// catalog; those contribute no edges.
func (p *Planner) removalEdges(removed map[string]installed.Package, cat *catalog.Catalog) map[string][]string {
	edges := make(map[string][]string)
	for name, pkg := range removed {
		rec := cat.Get(catalog.Identity{Name: name, Version: pkg.Version, Arch: pkg.Arch})
		if rec == nil {
			continue
		}
		targets := make(map[string]struct{})
		for _, clause := range rec.Depends {
			for _, atom := range clause {
				if atom.Name == name {
					continue
				}
				if _, ok := removed[atom.Name]; ok {
					targets[atom.Name] = struct{}{}
				}
			}
		}
		for target := range targets {
			edges[name] = append(edges[name], target)
		}
	}
	sortEdges(edges)
	return edges
}

func sortEdges(edges map[string][]string) {
	for _, targets := range edges {
		sort.Strings(targets)
	}
}

// orderActions topologically sorts the actions along the given edges.
// Cycles are broken at the edge whose source orders lowest by name;
// each break is logged as a planner conflict.
func (p *Planner) orderActions(actions []Action, edges map[string][]string) []Action {
	if len(actions) < 2 {
		return actions
	}
	byName := make(map[string]Action, len(actions))
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		byName[a.Name] = a
		names = append(names, a.Name)
	}
	sort.Strings(names)

	adjacency := make(map[string][]string, len(names))
	for source, targets := range edges {
		for _, target := range targets {
			if _, ok := byName[source]; !ok {
				continue
			}
			if _, ok := byName[target]; !ok {
				continue
			}
			adjacency[source] = append(adjacency[source], target)
		}
	}

	for {
		broken := p.breakOneCycle(names, adjacency)
		if !broken {
			break
		}
	}

	order := topoSort(names, adjacency)
	result := make([]Action, 0, len(order))
	for _, name := range order {
		result = append(result, byName[name])
	}
	return result
}

// breakOneCycle finds the strongly connected components of the action
// graph and, in each component that is not a single vertex, removes
// one edge: the one whose source (then target) orders lowest. It
// reports whether any edge was removed.
func (p *Planner) breakOneCycle(names []string, adjacency map[string][]string) bool {
	components := stronglyConnected(names, adjacency)
	broken := false
	for _, component := range components {
		if len(component) < 2 {
			continue
		}
		inComponent := make(map[string]struct{}, len(component))
		for _, name := range component {
			inComponent[name] = struct{}{}
		}

		bestSource, bestTarget := "", ""
		for _, source := range component {
			for _, target := range adjacency[source] {
				if _, ok := inComponent[target]; !ok {
					continue
				}
				if bestSource == "" || source < bestSource || (source == bestSource && target < bestTarget) {
					bestSource, bestTarget = source, target
				}
			}
		}
		if bestSource == "" {
			continue
		}
		targets := adjacency[bestSource]
		for i, target := range targets {
			if target == bestTarget {
				adjacency[bestSource] = append(targets[:i], targets[i+1:]...)
				break
			}
		}
		p.logger.WithFields(logrus.Fields{
			"from": bestSource,
			"to":   bestTarget,
		}).Warn("dependency cycle in action plan; breaking edge")
		broken = true
	}
	return broken
}

// topoSort runs Kahn's algorithm, always picking the lexicographically
// smallest ready vertex. The input graph is acyclic by the time this
// runs.
func topoSort(names []string, adjacency map[string][]string) []string {
	indegree := make(map[string]int, len(names))
	for _, name := range names {
		indegree[name] = 0
	}
	for _, targets := range adjacency {
		for _, target := range targets {
			indegree[target]++
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, target := range adjacency[name] {
			indegree[target]--
			if indegree[target] == 0 {
				ready = insertSorted(ready, target)
			}
		}
	}
	return order
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

// stronglyConnected is an iterative Tarjan pass returning the
// components of the graph in deterministic order.
func stronglyConnected(names []string, adjacency map[string][]string) [][]string {
	index := make(map[string]int, len(names))
	lowlink := make(map[string]int, len(names))
	onStack := make(map[string]bool, len(names))
	var stack []string
	var components [][]string
	counter := 0

	type frame struct {
		name string
		next int
	}

	visit := func(root string) {
		frames := []frame{{name: root}}
		index[root] = counter
		lowlink[root] = counter
		counter++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			targets := adjacency[f.name]
			advanced := false
			for f.next < len(targets) {
				target := targets[f.next]
				f.next++
				if _, seen := index[target]; !seen {
					index[target] = counter
					lowlink[target] = counter
					counter++
					stack = append(stack, target)
					onStack[target] = true
					frames = append(frames, frame{name: target})
					advanced = true
					break
				}
				if onStack[target] && index[target] < lowlink[f.name] {
					lowlink[f.name] = index[target]
				}
			}
			if advanced {
				continue
			}

			if lowlink[f.name] == index[f.name] {
				var component []string
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					component = append(component, top)
					if top == f.name {
						break
					}
				}
				sort.Strings(component)
				components = append(components, component)
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[f.name] < lowlink[parent.name] {
					lowlink[parent.name] = lowlink[f.name]
				}
			}
		}
	}

	for _, name := range names {
		if _, seen := index[name]; !seen {
			visit(name)
		}
	}
	return components
}
