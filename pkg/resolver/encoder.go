// Package resolver compiles the package universe and the blueprint
// into a Boolean problem, drives the SAT oracle to a feasible
// assignment, and refines it toward the latest versions and the
// smallest footprint. On unsatisfiable input it isolates a minimal
// conflicting subset of blueprint entries.
package resolver

import (
	"github.com/praxis-pm/praxis/pkg/blueprint"
	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/deb"
	"github.com/praxis-pm/praxis/pkg/sat"
)

func packageID(id catalog.Identity) sat.Identifier {
	return sat.Identifier("pkg/" + id.String())
}

func requestID(name string) sat.Identifier {
	return sat.Identifier("blueprint/" + name)
}

// packageVariable represents one candidate package identity.
type packageVariable struct {
	id          sat.Identifier
	record      *catalog.Record
	constraints []sat.Constraint
}

func (v *packageVariable) Identifier() sat.Identifier {
	return v.id
}

func (v *packageVariable) Constraints() []sat.Constraint {
	return v.constraints
}

// requestVariable represents one blueprint entry: mandatory, satisfied
// by any of its resolved candidates.
type requestVariable struct {
	id          sat.Identifier
	entry       blueprint.Entry
	constraints []sat.Constraint
}

func (v *requestVariable) Identifier() sat.Identifier {
	return v.id
}

func (v *requestVariable) Constraints() []sat.Constraint {
	return v.constraints
}

// universe is the encoded problem: the candidate variables in
// canonical order plus the lookup tables the driver needs.
type universe struct {
	variables []sat.Variable
	// candidates lists, per package name, the arch-admissible
	// candidate records newest first.
	candidates map[string][]*catalog.Record
	requests   []*requestVariable
	// unresolved lists blueprint entries with no candidates at
	// all: immediate unsatisfiability attributed to the entry.
	unresolved []blueprint.Entry
}

// encode builds the SAT universe for the given catalog slice and
// blueprint entries. Variables and clauses are emitted in a fixed
// order so identical inputs produce identical problems.
func encode(cat *catalog.Catalog, entries []blueprint.Entry, arch string) *universe {
	u := &universe{
		candidates: make(map[string][]*catalog.Record),
	}

	// Admit only identities for the primary architecture or "all".
	var admitted []*catalog.Record
	for _, r := range cat.Records() {
		if r.Arch != arch && r.Arch != "all" {
			continue
		}
		admitted = append(admitted, r)
		u.candidates[r.Name] = append(u.candidates[r.Name], r)
	}
	inUniverse := make(map[catalog.Identity]struct{}, len(admitted))
	for _, r := range admitted {
		inUniverse[r.Identity] = struct{}{}
	}
	pkgVars := make(map[catalog.Identity]*packageVariable, len(admitted))

	for _, r := range admitted {
		v := &packageVariable{id: packageID(r.Identity), record: r}

		for _, clause := range r.Depends {
			ids, tautology := resolveClause(cat, clause, r, arch, inUniverse)
			if tautology {
				continue
			}
			if len(ids) == 0 {
				v.constraints = append(v.constraints, sat.Unresolvable(clause.String()))
				continue
			}
			v.constraints = append(v.constraints, sat.Dependency(ids...))
		}

		for _, atom := range r.Conflicts {
			for _, target := range cat.Resolve(atom, arch) {
				// A package never conflicts with its own
				// name; version exclusion among same-name
				// candidates is encoded separately.
				if target.Name == r.Name {
					continue
				}
				if _, ok := inUniverse[target.Identity]; !ok {
					continue
				}
				v.constraints = append(v.constraints, sat.Conflict(packageID(target.Identity)))
			}
		}

		pkgVars[r.Identity] = v
		u.variables = append(u.variables, v)
	}

	// At most one version per name, encoded pairwise.
	for _, r := range admitted {
		group := u.candidates[r.Name]
		if len(group) < 2 || group[0] != r {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				owner := pkgVars[group[i].Identity]
				owner.constraints = append(owner.constraints, sat.Conflict(packageID(group[j].Identity)))
			}
		}
	}

	for _, entry := range entries {
		resolved := cat.ResolveEntry(entry.Name, entry.Predicates, arch)
		var ids []sat.Identifier
		for _, r := range resolved {
			if _, ok := inUniverse[r.Identity]; !ok {
				continue
			}
			ids = append(ids, packageID(r.Identity))
		}
		if len(ids) == 0 {
			u.unresolved = append(u.unresolved, entry)
			continue
		}
		v := &requestVariable{
			id:    requestID(entry.Name),
			entry: entry,
			constraints: []sat.Constraint{
				sat.Mandatory(),
				sat.Dependency(ids...),
			},
		}
		u.requests = append(u.requests, v)
		u.variables = append(u.variables, v)
	}

	return u
}

// resolveClause resolves a dependency clause against the universe.
// The second return is true when the clause is trivially satisfied by
// its owner (a self-dependency).
func resolveClause(cat *catalog.Catalog, clause deb.Clause, owner *catalog.Record, arch string, inUniverse map[catalog.Identity]struct{}) ([]sat.Identifier, bool) {
	var ids []sat.Identifier
	seen := make(map[sat.Identifier]struct{})
	for _, atom := range clause {
		for _, target := range cat.Resolve(atom, arch) {
			if target.Identity == owner.Identity {
				return nil, true
			}
			if _, ok := inUniverse[target.Identity]; !ok {
				continue
			}
			id := packageID(target.Identity)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, false
}

