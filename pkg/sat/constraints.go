package sat

import (
	"fmt"
	"strings"

	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// Constraint implementations limit the circumstances under which a
// particular Variable can appear in a solution.
type Constraint interface {
	String(subject Identifier) string
	apply(c *logic.C, lm *litMapping, subject Identifier) z.Lit
}

// AppliedConstraint values compose a single Constraint with the
// Variable it applies to.
type AppliedConstraint struct {
	Variable   Variable
	Constraint Constraint
}

// String implements fmt.Stringer and returns a human-readable message
// representing the receiver.
func (a AppliedConstraint) String() string {
	return a.Constraint.String(a.Variable.Identifier())
}

// zeroConstraint is a Constraint with an empty description.
type zeroConstraint struct{}

var _ Constraint = zeroConstraint{}

func (zeroConstraint) String(subject Identifier) string {
	return ""
}

func (zeroConstraint) apply(c *logic.C, lm *litMapping, subject Identifier) z.Lit {
	return z.LitNull
}

type mandatory struct{}

func (c mandatory) String(subject Identifier) string {
	return fmt.Sprintf("%s is mandatory", subject)
}

func (c mandatory) apply(_ *logic.C, lm *litMapping, subject Identifier) z.Lit {
	return lm.LitOf(subject)
}

// Mandatory returns a Constraint that will permit only solutions that
// contain a particular Variable.
func Mandatory() Constraint {
	return mandatory{}
}

type prohibited struct{}

func (c prohibited) String(subject Identifier) string {
	return fmt.Sprintf("%s is prohibited", subject)
}

func (c prohibited) apply(_ *logic.C, lm *litMapping, subject Identifier) z.Lit {
	return lm.LitOf(subject).Not()
}

// Prohibited returns a Constraint that will reject any solution that
// contains a particular Variable. Callers may also decide to omit a
// Variable from input to Solve rather than apply such a Constraint.
func Prohibited() Constraint {
	return prohibited{}
}

type dependency []Identifier

func (c dependency) String(subject Identifier) string {
	s := make([]string, len(c))
	for i, each := range c {
		s[i] = string(each)
	}
	return fmt.Sprintf("%s requires at least one of %s", subject, strings.Join(s, ", "))
}

func (c dependency) apply(lc *logic.C, lm *litMapping, subject Identifier) z.Lit {
	if len(c) == 0 {
		return z.LitNull
	}
	ms := make([]z.Lit, 0, len(c)+1)
	ms = append(ms, lm.LitOf(subject).Not())
	for _, each := range c {
		ms = append(ms, lm.LitOf(each))
	}
	return lc.Ors(ms...)
}

// Dependency returns a Constraint that will only permit solutions
// containing a given Variable on the condition that at least one of
// the Variables identified by the given Identifiers also appears in
// the solution.
func Dependency(ids ...Identifier) Constraint {
	return dependency(ids)
}

type unresolvable string

func (c unresolvable) String(subject Identifier) string {
	return fmt.Sprintf("%s has a dependency without candidates: %s", subject, string(c))
}

func (c unresolvable) apply(_ *logic.C, lm *litMapping, subject Identifier) z.Lit {
	return lm.LitOf(subject).Not()
}

// Unresolvable returns a Constraint that prohibits its subject because
// one of its dependency clauses has no candidates at all. It behaves
// like Prohibited but names the vacuous clause in diagnostics.
func Unresolvable(clause string) Constraint {
	return unresolvable(clause)
}

type conflict Identifier

func (c conflict) String(subject Identifier) string {
	return fmt.Sprintf("%s conflicts with %s", subject, c)
}

func (c conflict) apply(lc *logic.C, lm *litMapping, subject Identifier) z.Lit {
	return lc.Or(lm.LitOf(subject).Not(), lm.LitOf(Identifier(c)).Not())
}

// Conflict returns a Constraint that will permit solutions containing
// either the constrained Variable, the Variable identified by the
// given Identifier, or neither, but not both.
func Conflict(id Identifier) Constraint {
	return conflict(id)
}

type atMost struct {
	n   int
	ids []Identifier
}

func (c atMost) String(subject Identifier) string {
	s := make([]string, len(c.ids))
	for i, each := range c.ids {
		s[i] = string(each)
	}
	return fmt.Sprintf("%s permits at most %d of %s", subject, c.n, strings.Join(s, ", "))
}

func (c atMost) apply(lc *logic.C, lm *litMapping, subject Identifier) z.Lit {
	ms := make([]z.Lit, len(c.ids))
	for i, each := range c.ids {
		ms[i] = lm.LitOf(each)
	}
	return lc.CardSort(ms).Leq(c.n)
}

// AtMost returns a Constraint that forbids solutions containing more
// than n of the Variables identified by the given Identifiers.
func AtMost(n int, ids ...Identifier) Constraint {
	return atMost{n: n, ids: ids}
}
