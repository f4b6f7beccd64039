package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/praxis-pm/praxis/pkg/blueprint"
	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/sat"
)

// diagnose performs a deletion-based minimal unsatisfiable subset
// search over blueprint entries: drop one entry at a time and re-solve
// the reduced problem; an entry whose removal keeps the problem
// unsatisfiable is permanently discarded. Solver calls are bounded by
// the blueprint size plus one for the optional core-based seeding.
func (r *Resolver) diagnose(ctx context.Context, cat *catalog.Catalog, entries []blueprint.Entry, arch string, conflicts sat.NotSatisfiable) ([]string, error) {
	active := entries

	// The failing solve's conflict set names the blueprint entries
	// involved; when that subset is itself unsatisfiable it is a
	// cheaper starting point than the full blueprint.
	if seed := entriesFromConflicts(entries, conflicts); len(seed) > 0 && len(seed) < len(entries) {
		unsat, err := r.subsetUnsat(ctx, cat, seed, arch)
		if err != nil {
			return nil, err
		}
		if unsat {
			active = seed
		}
	}

	for i := 0; i < len(active); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reduced := make([]blueprint.Entry, 0, len(active)-1)
		reduced = append(reduced, active[:i]...)
		reduced = append(reduced, active[i+1:]...)
		unsat, err := r.subsetUnsat(ctx, cat, reduced, arch)
		if err != nil {
			return nil, err
		}
		if unsat {
			active = reduced
		} else {
			i++
		}
	}

	names := make([]string, len(active))
	for i, e := range active {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names, nil
}

// subsetUnsat re-encodes the problem with only the given entries and
// reports whether it is unsatisfiable.
func (r *Resolver) subsetUnsat(ctx context.Context, cat *catalog.Catalog, entries []blueprint.Entry, arch string) (bool, error) {
	u := encode(cat, entries, arch)
	if len(u.unresolved) > 0 {
		return true, nil
	}
	solver, err := sat.New(sat.WithInput(u.variables))
	if err != nil {
		return false, err
	}
	_, err = solver.Solve(ctx)
	if err == nil {
		return false, nil
	}
	if _, unsat := err.(sat.NotSatisfiable); unsat {
		return true, nil
	}
	return false, err
}

// entriesFromConflicts extracts, in input order, the blueprint entries
// whose request variables appear in a conflict set.
func entriesFromConflicts(entries []blueprint.Entry, conflicts sat.NotSatisfiable) []blueprint.Entry {
	involved := make(map[string]struct{})
	for _, applied := range conflicts {
		id := string(applied.Variable.Identifier())
		if name, ok := strings.CutPrefix(id, "blueprint/"); ok {
			involved[name] = struct{}{}
		}
	}
	var result []blueprint.Entry
	for _, e := range entries {
		if _, ok := involved[e.Name]; ok {
			result = append(result, e)
		}
	}
	return result
}
