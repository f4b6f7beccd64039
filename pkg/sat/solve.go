package sat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
)

// Incomplete is returned when the underlying engine stops without
// deciding satisfiability. A cancelled Context is reported as the
// Context's own error.
var Incomplete = errors.New("solver stopped before a solution could be found")

// NotSatisfiable is an error composed of a minimal set of applied
// constraints that is sufficient to make a solution impossible.
type NotSatisfiable []AppliedConstraint

func (e NotSatisfiable) Error() string {
	const msg = "constraints not satisfiable"
	if len(e) == 0 {
		return msg
	}
	s := make([]string, len(e))
	for i, a := range e {
		s[i] = a.String()
	}
	return fmt.Sprintf("%s: %s", msg, strings.Join(s, ", "))
}

const (
	satisfiable   = 1
	unsatisfiable = -1
)

// Assumption fixes the value of one Variable for the duration of a
// single Solve call.
type Assumption struct {
	id       Identifier
	positive bool
}

// Assume returns an Assumption that forces the identified Variable
// into the solution.
func Assume(id Identifier) Assumption {
	return Assumption{id: id, positive: true}
}

// AssumeNot returns an Assumption that keeps the identified Variable
// out of the solution.
func AssumeNot(id Identifier) Assumption {
	return Assumption{id: id, positive: false}
}

// Solver finds solutions over a fixed set of input Variables. A Solver
// may be queried repeatedly with different assumptions; each call is
// independent.
type Solver interface {
	// Solve returns the set of selected Variables under the given
	// assumptions, or NotSatisfiable. Among the Variables that are
	// neither assumed nor forced by constraints, solutions with
	// fewer selections are preferred.
	Solve(ctx context.Context, assumptions ...Assumption) ([]Variable, error)
}

type solver struct {
	g      *gini.Gini
	lits   *litMapping
	loaded bool
	buffer []z.Lit
}

// New returns a Solver over the given input. Identical inputs produce
// identical solver behavior: the underlying CDCL engine is
// deterministic and all clauses and assumptions are emitted in input
// order.
func New(options ...Option) (Solver, error) {
	s := solver{g: gini.New()}
	for _, option := range append(options, defaults...) {
		if err := option(&s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

type Option func(s *solver) error

func WithInput(input []Variable) Option {
	return func(s *solver) error {
		var err error
		s.lits, err = newLitMapping(input)
		return err
	}
}

var defaults = []Option{
	func(s *solver) error {
		if s.lits == nil {
			s.lits, _ = newLitMapping(nil)
		}
		return nil
	},
}

func (s *solver) Solve(ctx context.Context, assumptions ...Assumption) (result []Variable, err error) {
	defer func() {
		// This likely indicates a bug, so discard whatever
		// return values were produced.
		if derr := s.lits.Error(); derr != nil {
			result = nil
			err = derr
		}
	}()

	if !s.loaded {
		s.lits.AddConstraints(s.g)
		s.loaded = true
	}

	assumed := make([]z.Lit, 0, len(assumptions))
	anchored := make(map[z.Lit]struct{}, len(assumptions))
	for _, a := range assumptions {
		m := s.lits.LitOf(a.id)
		if a.positive {
			anchored[m] = struct{}{}
		} else {
			m = m.Not()
		}
		assumed = append(assumed, m)
	}

	assume := func(extra ...z.Lit) {
		s.g.Assume(assumed...)
		s.lits.AssumeConstraints(s.g)
		s.g.Assume(extra...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assume()
	switch s.g.Solve() {
	case satisfiable:
	case unsatisfiable:
		return nil, NotSatisfiable(s.lits.Conflicts(s.g))
	default:
		return nil, Incomplete
	}

	// Prefer solutions that select as few unanchored variables as
	// possible: lock out everything the first model excluded, then
	// constrain the count of its extras through a sorting network
	// and walk the bound up from zero until satisfiable again.
	s.buffer = s.lits.Lits(s.buffer)
	var extras, excluded []z.Lit
	for _, m := range s.buffer {
		if _, ok := anchored[m]; ok {
			continue
		}
		if !s.g.Value(m) {
			excluded = append(excluded, m.Not())
			continue
		}
		extras = append(extras, m)
	}
	if len(extras) > 0 {
		cs := s.lits.CardinalityConstrainer(s.g, extras)
		for w := 0; w <= cs.N(); w++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			assume(append(excluded, cs.Leq(w))...)
			if s.g.Solve() == satisfiable {
				return s.lits.Variables(s.g), nil
			}
		}
		// Unreachable: the unconstrained model bounds the count.
		assume()
		if s.g.Solve() != satisfiable {
			return nil, fmt.Errorf("unexpected internal error")
		}
	}

	return s.lits.Variables(s.g), nil
}
