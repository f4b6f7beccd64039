package sat

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestVariable struct {
	identifier  Identifier
	constraints []Constraint
}

func (i TestVariable) Identifier() Identifier {
	return i.identifier
}

func (i TestVariable) Constraints() []Constraint {
	return i.constraints
}

func (i TestVariable) GoString() string {
	return fmt.Sprintf("%q", i.Identifier())
}

func variable(id Identifier, constraints ...Constraint) Variable {
	return TestVariable{
		identifier:  id,
		constraints: constraints,
	}
}

func identifiers(vs []Variable) []Identifier {
	if len(vs) == 0 {
		return nil
	}
	result := make([]Identifier, len(vs))
	for i, v := range vs {
		result[i] = v.Identifier()
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func TestNotSatisfiableError(t *testing.T) {
	type tc struct {
		Name   string
		Error  NotSatisfiable
		String string
	}

	for _, tt := range []tc{
		{
			Name:   "nil",
			String: "constraints not satisfiable",
		},
		{
			Name:   "empty",
			String: "constraints not satisfiable",
			Error:  NotSatisfiable{},
		},
		{
			Name: "single failure",
			Error: NotSatisfiable{
				AppliedConstraint{
					Variable:   variable("a", Mandatory()),
					Constraint: Mandatory(),
				},
			},
			String: fmt.Sprintf("constraints not satisfiable: %s",
				Mandatory().String("a")),
		},
		{
			Name: "multiple failures",
			Error: NotSatisfiable{
				AppliedConstraint{
					Variable:   variable("a", Mandatory()),
					Constraint: Mandatory(),
				},
				AppliedConstraint{
					Variable:   variable("b", Prohibited()),
					Constraint: Prohibited(),
				},
			},
			String: fmt.Sprintf("constraints not satisfiable: %s, %s",
				Mandatory().String("a"), Prohibited().String("b")),
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			assert.Equal(t, tt.String, tt.Error.Error())
		})
	}
}

func TestSolve(t *testing.T) {
	type tc struct {
		Name          string
		Variables     []Variable
		Assumptions   []Assumption
		Selected      []Identifier
		SelectedCount int
		Contains      []Identifier
		Unsat         bool
	}

	for _, tt := range []tc{
		{
			Name: "no variables",
		},
		{
			Name:      "unnecessary variable not selected",
			Variables: []Variable{variable("a")},
		},
		{
			Name:      "single mandatory variable",
			Variables: []Variable{variable("a", Mandatory())},
			Selected:  []Identifier{"a"},
		},
		{
			Name:      "both mandatory and prohibited",
			Variables: []Variable{variable("a", Mandatory(), Prohibited())},
			Unsat:     true,
		},
		{
			Name: "dependency is selected",
			Variables: []Variable{
				variable("a"),
				variable("b", Mandatory(), Dependency("a")),
			},
			Selected: []Identifier{"a", "b"},
		},
		{
			Name: "exactly one alternative selected",
			Variables: []Variable{
				variable("a"),
				variable("b"),
				variable("c", Mandatory(), Dependency("a", "b")),
			},
			SelectedCount: 2,
			Contains:      []Identifier{"c"},
		},
		{
			Name: "transitive dependency chain",
			Variables: []Variable{
				variable("a"),
				variable("b", Dependency("a")),
				variable("c", Mandatory(), Dependency("b")),
			},
			Selected: []Identifier{"a", "b", "c"},
		},
		{
			Name: "conflict rejects coselection",
			Variables: []Variable{
				variable("a", Mandatory(), Conflict("b")),
				variable("b", Mandatory()),
			},
			Unsat: true,
		},
		{
			Name: "conflict steers dependency choice",
			Variables: []Variable{
				variable("a", Mandatory(), Conflict("b")),
				variable("b"),
				variable("c"),
				variable("d", Mandatory(), Dependency("b", "c")),
			},
			Selected: []Identifier{"a", "c", "d"},
		},
		{
			Name: "unsatisfiable dependency",
			Variables: []Variable{
				variable("a", Mandatory(), Unresolvable("b (>= 1.0)")),
			},
			Unsat: true,
		},
		{
			Name: "at most one of",
			Variables: []Variable{
				variable("a", Mandatory(), Dependency("x", "y"), AtMost(1, "x", "y")),
				variable("x"),
				variable("y"),
			},
			SelectedCount: 2,
			Contains:      []Identifier{"a"},
		},
		{
			Name: "positive assumption",
			Variables: []Variable{
				variable("a"),
				variable("b"),
			},
			Assumptions: []Assumption{Assume("b")},
			Selected:    []Identifier{"b"},
		},
		{
			Name: "negative assumption redirects choice",
			Variables: []Variable{
				variable("a"),
				variable("b"),
				variable("c", Mandatory(), Dependency("a", "b")),
			},
			Assumptions: []Assumption{AssumeNot("a")},
			Selected:    []Identifier{"b", "c"},
		},
		{
			Name: "contradictory assumptions",
			Variables: []Variable{
				variable("a", Mandatory()),
			},
			Assumptions: []Assumption{AssumeNot("a")},
			Unsat:       true,
		},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			s, err := New(WithInput(tt.Variables))
			require.NoError(t, err)

			selected, err := s.Solve(context.Background(), tt.Assumptions...)
			if tt.Unsat {
				assert.Nil(t, selected)
				var ns NotSatisfiable
				assert.ErrorAs(t, err, &ns)
				return
			}
			require.NoError(t, err)
			got := identifiers(selected)
			if tt.SelectedCount > 0 || len(tt.Contains) > 0 {
				assert.Len(t, got, tt.SelectedCount)
				for _, id := range tt.Contains {
					assert.Contains(t, got, id)
				}
				return
			}
			assert.Equal(t, tt.Selected, got)
		})
	}
}

func TestSolveRepeatedQueries(t *testing.T) {
	s, err := New(WithInput([]Variable{
		variable("a"),
		variable("b"),
		variable("c", Mandatory(), Dependency("a", "b")),
	}))
	require.NoError(t, err)

	ctx := context.Background()

	selected, err := s.Solve(ctx)
	require.NoError(t, err)
	assert.Len(t, selected, 2)

	// An assumption only applies to its own call.
	_, err = s.Solve(ctx, AssumeNot("a"), AssumeNot("b"))
	var ns NotSatisfiable
	assert.ErrorAs(t, err, &ns)

	selected, err = s.Solve(ctx)
	require.NoError(t, err)
	assert.Len(t, selected, 2)
	assert.Contains(t, identifiers(selected), Identifier("c"))
}

func TestSolveFullAssignmentCheck(t *testing.T) {
	vars := []Variable{
		variable("a", Mandatory(), Dependency("b")),
		variable("b"),
		variable("c"),
	}
	s, err := New(WithInput(vars))
	require.NoError(t, err)

	ctx := context.Background()

	// Pinning every variable turns Solve into a validity check of
	// one specific assignment.
	selected, err := s.Solve(ctx, Assume("a"), Assume("b"), AssumeNot("c"))
	require.NoError(t, err)
	assert.Equal(t, []Identifier{"a", "b"}, identifiers(selected))

	_, err = s.Solve(ctx, Assume("a"), AssumeNot("b"), AssumeNot("c"))
	var ns NotSatisfiable
	assert.ErrorAs(t, err, &ns)
}

func TestDuplicateIdentifier(t *testing.T) {
	_, err := New(WithInput([]Variable{
		variable("a"),
		variable("a"),
	}))
	assert.Equal(t, DuplicateIdentifier("a"), err)
}
