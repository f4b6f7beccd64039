package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/praxis-pm/praxis/pkg/blueprint"
	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/installed"
	"github.com/praxis-pm/praxis/pkg/sat"
)

// UnsatError reports that the blueprint cannot be satisfied, carrying
// the minimal conflicting subset of blueprint entry names.
type UnsatError struct {
	Entries []string
	// Detail is the solver's conflict set from the failing solve,
	// for verbose diagnostics.
	Detail sat.NotSatisfiable
}

func (e *UnsatError) Error() string {
	return fmt.Sprintf("blueprint cannot be satisfied; minimal conflicting set: %s",
		strings.Join(e.Entries, ", "))
}

// Resolver computes package assignments.
type Resolver struct {
	logger logrus.FieldLogger
}

func New(logger logrus.FieldLogger) *Resolver {
	return &Resolver{logger: logger}
}

// assignment is the working state of the optimization phases: the
// selected record per package name.
type assignment map[string]*catalog.Record

func (a assignment) clone() assignment {
	b := make(assignment, len(a))
	for k, v := range a {
		b[k] = v
	}
	return b
}

func (a assignment) names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve computes the package set satisfying the blueprint entries
// against the catalog, biased toward the installed snapshot, upgraded
// where an upgrade causes no collateral churn, and reduced to the
// minimal footprint. The result is sorted by name. Identical inputs
// produce identical results.
func (r *Resolver) Resolve(ctx context.Context, cat *catalog.Catalog, entries []blueprint.Entry, snapshot installed.Snapshot, arch string) ([]*catalog.Record, error) {
	u := encode(cat, entries, arch)
	if len(u.unresolved) > 0 {
		names := make([]string, len(u.unresolved))
		for i, e := range u.unresolved {
			names[i] = e.Name
		}
		return nil, &UnsatError{Entries: names}
	}

	solver, err := sat.New(sat.WithInput(u.variables))
	if err != nil {
		return nil, errors.Wrap(err, "building solver")
	}

	current, err := r.feasible(ctx, solver, u, entries, cat, snapshot, arch)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	current, err = r.preferLatest(ctx, solver, u, current)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pinned := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		pinned[e.Name] = struct{}{}
	}
	current, err = r.minimizeFootprint(ctx, solver, u, current, pinned)
	if err != nil {
		return nil, err
	}

	result := make([]*catalog.Record, 0, len(current))
	for _, name := range current.names() {
		result = append(result, current[name])
	}
	return result, nil
}

// feasible runs phase one: a solve seeded with the installed
// identities still present in the universe, retried unseeded if the
// seeds are jointly infeasible, and diagnosed on hard UNSAT.
func (r *Resolver) feasible(ctx context.Context, solver sat.Solver, u *universe, entries []blueprint.Entry, cat *catalog.Catalog, snapshot installed.Snapshot, arch string) (assignment, error) {
	base := make([]sat.Assumption, 0, len(u.requests))
	for _, req := range u.requests {
		base = append(base, sat.Assume(req.id))
	}

	seeds := r.installedSeeds(u, entries, snapshot)
	selected, err := solver.Solve(ctx, append(append([]sat.Assumption(nil), base...), seeds...)...)
	if err != nil && len(seeds) > 0 {
		if _, unsat := err.(sat.NotSatisfiable); unsat {
			r.logger.Debug("installed state conflicts with blueprint; resolving without seed bias")
			selected, err = solver.Solve(ctx, base...)
		}
	}
	if err != nil {
		if ns, unsat := err.(sat.NotSatisfiable); unsat {
			mus, derr := r.diagnose(ctx, cat, entries, arch, ns)
			if derr != nil {
				return nil, derr
			}
			return nil, &UnsatError{Entries: mus, Detail: ns}
		}
		return nil, err
	}

	current := make(assignment)
	for _, v := range selected {
		if pv, ok := v.(*packageVariable); ok {
			current[pv.record.Name] = pv.record
		}
	}
	return current, nil
}

// installedSeeds returns positive assumptions for installed identities
// that still exist in the universe and do not contradict a blueprint
// entry's predicates.
func (r *Resolver) installedSeeds(u *universe, entries []blueprint.Entry, snapshot installed.Snapshot) []sat.Assumption {
	byName := make(map[string]blueprint.Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	var seeds []sat.Assumption
	for _, name := range snapshot.Names() {
		pkg := snapshot[name]
		id := catalog.Identity{Name: pkg.Name, Version: pkg.Version, Arch: pkg.Arch}
		candidate := false
		for _, c := range u.candidates[name] {
			if c.Identity == id {
				candidate = true
				break
			}
		}
		if !candidate {
			continue
		}
		if e, ok := byName[name]; ok {
			satisfies := true
			for _, p := range e.Predicates {
				if !p.Match(pkg.Version) {
					satisfies = false
					break
				}
			}
			if !satisfies {
				continue
			}
		}
		seeds = append(seeds, sat.Assume(packageID(id)))
	}
	return seeds
}

// valid reports whether the exact assignment is a model: every
// candidate is pinned positively or negatively, so the solve reduces
// to constraint checking.
func (r *Resolver) valid(ctx context.Context, solver sat.Solver, u *universe, a assignment) (bool, error) {
	assumptions := make([]sat.Assumption, 0, len(u.variables))
	for _, req := range u.requests {
		assumptions = append(assumptions, sat.Assume(req.id))
	}
	for _, v := range u.variables {
		pv, ok := v.(*packageVariable)
		if !ok {
			continue
		}
		if selected, ok := a[pv.record.Name]; ok && selected.Identity == pv.record.Identity {
			assumptions = append(assumptions, sat.Assume(pv.id))
		} else {
			assumptions = append(assumptions, sat.AssumeNot(pv.id))
		}
	}
	_, err := solver.Solve(ctx, assumptions...)
	if err == nil {
		return true, nil
	}
	if _, unsat := err.(sat.NotSatisfiable); unsat {
		return false, nil
	}
	return false, err
}

// preferLatest implements the first optimization criterion: walk the
// selected names and accept any version bump that leaves the rest of
// the assignment untouched, iterating until a fixpoint.
func (r *Resolver) preferLatest(ctx context.Context, solver sat.Solver, u *universe, current assignment) (assignment, error) {
	for {
		changed := false
		for _, name := range current.names() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			selected := current[name]
			for _, candidate := range u.candidates[name] {
				if candidate.Version.Compare(selected.Version) <= 0 {
					break
				}
				next := current.clone()
				next[name] = candidate
				ok, err := r.valid(ctx, solver, u, next)
				if err != nil {
					return nil, err
				}
				if ok {
					r.logger.WithFields(logrus.Fields{
						"package": name,
						"from":    selected.Version.String(),
						"to":      candidate.Version.String(),
					}).Debug("accepting upgrade")
					current = next
					changed = true
					break
				}
			}
		}
		if !changed {
			return current, nil
		}
	}
}

// minimizeFootprint implements the second optimization criterion:
// visit unpinned selections dependents-first and drop each whose
// removal leaves a valid assignment.
func (r *Resolver) minimizeFootprint(ctx context.Context, solver sat.Solver, u *universe, current assignment, pinned map[string]struct{}) (assignment, error) {
	for _, name := range removalOrder(current) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, isPinned := pinned[name]; isPinned {
			continue
		}
		if _, stillSelected := current[name]; !stillSelected {
			continue
		}
		next := current.clone()
		delete(next, name)
		ok, err := r.valid(ctx, solver, u, next)
		if err != nil {
			return nil, err
		}
		if ok {
			r.logger.WithField("package", name).Debug("dropping redundant package")
			current = next
		}
	}
	return current, nil
}

// removalOrder sorts the assignment by reverse dependency depth,
// dependents before their prerequisites, with names breaking ties.
// Within a dependency cycle every member shares a depth.
func removalOrder(current assignment) []string {
	// remaining[q] counts the selected packages depending on q that
	// have not yet been ranked.
	remaining := make(map[string]int, len(current))
	for name := range current {
		remaining[name] = 0
	}
	for name, rec := range current {
		for _, clause := range rec.Depends {
			for _, atom := range clause {
				if _, ok := current[atom.Name]; !ok || atom.Name == name {
					continue
				}
				remaining[atom.Name]++
			}
		}
	}

	depth := make(map[string]int, len(current))
	queue := make([]string, 0, len(current))
	for name, n := range remaining {
		if n == 0 {
			queue = append(queue, name)
			depth[name] = 0
		}
	}
	sort.Strings(queue)
	for i := 0; i < len(queue); i++ {
		name := queue[i]
		rec := current[name]
		for _, clause := range rec.Depends {
			for _, atom := range clause {
				if atom.Name == name {
					continue
				}
				if _, ok := current[atom.Name]; !ok {
					continue
				}
				remaining[atom.Name]--
				if remaining[atom.Name] == 0 {
					depth[atom.Name] = depth[name] + 1
					queue = append(queue, atom.Name)
				}
			}
		}
	}
	// Members of cycles never reach zero; they share the deepest
	// rank and sort by name.
	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	for name := range current {
		if _, ok := depth[name]; !ok {
			depth[name] = maxDepth + 1
		}
	}

	order := make([]string, 0, len(current))
	for name := range current {
		order = append(order, name)
	}
	sort.Slice(order, func(i, j int) bool {
		if depth[order[i]] != depth[order[j]] {
			return depth[order[i]] < depth[order[j]]
		}
		return order[i] < order[j]
	})
	return order
}
