package sat

import (
	"fmt"
	"strings"

	"github.com/go-air/gini/inter"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// DuplicateIdentifier is returned by New when two input Variables
// share an Identifier.
type DuplicateIdentifier Identifier

func (e DuplicateIdentifier) Error() string {
	return fmt.Sprintf("duplicate identifier %q in input", Identifier(e))
}

type inconsistentLitMapping []error

func (inconsistentLitMapping) Error() string {
	return "internal solver failure"
}

// litMapping performs translation between the input and output types of
// Solve (Constraints, Variables, etc.) and the variables that appear in
// the SAT formula.
type litMapping struct {
	inorder     []Variable
	variables   map[z.Lit]Variable
	lits        map[Identifier]z.Lit
	constraints map[z.Lit]AppliedConstraint
	// activation literals in input order; iterating the constraints
	// map directly would make assumption order, and therefore solver
	// behavior, nondeterministic across runs.
	inorderConstraints []z.Lit
	c                  *logic.C
	errs               inconsistentLitMapping
}

// newLitMapping returns a new litMapping with its state initialized
// based on the provided slice of Variables, including the translation
// tables between Variables/Constraints and solver literals.
func newLitMapping(variables []Variable) (*litMapping, error) {
	d := litMapping{
		inorder:     variables,
		variables:   make(map[z.Lit]Variable, len(variables)),
		lits:        make(map[Identifier]z.Lit, len(variables)),
		constraints: make(map[z.Lit]AppliedConstraint),
		c:           logic.NewCCap(len(variables)),
	}

	// First pass to assign lits:
	for _, variable := range variables {
		im := d.c.Lit()
		if _, ok := d.lits[variable.Identifier()]; ok {
			return nil, DuplicateIdentifier(variable.Identifier())
		}
		d.lits[variable.Identifier()] = im
		d.variables[im] = variable
	}

	for _, variable := range variables {
		for _, constraint := range variable.Constraints() {
			m := constraint.apply(d.c, &d, variable.Identifier())
			if m == z.LitNull {
				// This constraint doesn't have a useful
				// representation in the SAT inputs.
				continue
			}
			d.constraints[m] = AppliedConstraint{
				Variable:   variable,
				Constraint: constraint,
			}
			d.inorderConstraints = append(d.inorderConstraints, m)
		}
	}

	return &d, nil
}

// LitOf returns the positive literal corresponding to the Variable
// with the given Identifier.
func (d *litMapping) LitOf(id Identifier) z.Lit {
	m, ok := d.lits[id]
	if ok {
		return m
	}
	d.errs = append(d.errs, fmt.Errorf("variable %q referenced but not provided", id))
	return z.LitNull
}

// VariableOf returns the Variable corresponding to the provided
// literal, or a zeroVariable if no such Variable exists.
func (d *litMapping) VariableOf(m z.Lit) Variable {
	i, ok := d.variables[m]
	if ok {
		return i
	}
	d.errs = append(d.errs, fmt.Errorf("no variable corresponding to %s", m))
	return zeroVariable{}
}

// Error returns a single error value that is an aggregation of all
// errors encountered during a litMapping's lifetime, or nil if there
// have been no errors. A non-nil return value likely indicates a
// problem with the solver or constraint implementations.
func (d *litMapping) Error() error {
	if len(d.errs) == 0 {
		return nil
	}
	s := make([]string, len(d.errs))
	for i, err := range d.errs {
		s[i] = err.Error()
	}
	return fmt.Errorf("%d errors encountered: %s", len(s), strings.Join(s, ", "))
}

// AddConstraints teaches the solver g the constraints encoded in the
// embedded circuit.
func (d *litMapping) AddConstraints(g inter.S) {
	d.c.ToCnf(g)
}

// AssumeConstraints assumes the activation literal of every constraint,
// in input order.
func (d *litMapping) AssumeConstraints(s inter.S) {
	for _, m := range d.inorderConstraints {
		s.Assume(m)
	}
}

// CardinalityConstrainer constructs a sorting network over the
// provided slice of literals and teaches any new clauses and variables
// to the given inter.Adder.
func (d *litMapping) CardinalityConstrainer(g inter.Adder, ms []z.Lit) *logic.CardSort {
	clen := d.c.Len()
	cs := d.c.CardSort(ms)
	marks := make([]int8, clen, d.c.Len())
	for i := range marks {
		marks[i] = 1
	}
	for w := 0; w <= cs.N(); w++ {
		marks, _ = d.c.CnfSince(g, marks, cs.Leq(w))
	}
	return cs
}

// Variables returns the Variables whose lits are true in the solver's
// current model, in input order.
func (d *litMapping) Variables(g inter.S) []Variable {
	var result []Variable
	for _, i := range d.inorder {
		if g.Value(d.LitOf(i.Identifier())) {
			result = append(result, i)
		}
	}
	return result
}

// Lits appends the positive literal of every input Variable to dst, in
// input order.
func (d *litMapping) Lits(dst []z.Lit) []z.Lit {
	if cap(dst) < len(d.inorder) {
		dst = make([]z.Lit, 0, len(d.inorder))
	}
	dst = dst[:0]
	for _, i := range d.inorder {
		dst = append(dst, d.LitOf(i.Identifier()))
	}
	return dst
}

// Conflicts returns the applied constraints corresponding to the
// solver's current final conflict, in input order.
func (d *litMapping) Conflicts(g inter.Assumable) []AppliedConstraint {
	whys := g.Why(nil)
	failed := make(map[z.Lit]struct{}, len(whys))
	for _, why := range whys {
		failed[why] = struct{}{}
	}
	as := make([]AppliedConstraint, 0, len(whys))
	for _, m := range d.inorderConstraints {
		if _, ok := failed[m]; !ok {
			continue
		}
		as = append(as, d.constraints[m])
	}
	return as
}
