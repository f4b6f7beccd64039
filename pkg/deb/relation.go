package deb

import (
	"strings"

	"github.com/pkg/errors"
)

// PredicateOp is a version comparison operator appearing in a
// dependency relation or a blueprint entry.
type PredicateOp string

const (
	OpEqual        PredicateOp = "="
	OpNotEqual     PredicateOp = "!="
	OpLess         PredicateOp = "<"
	OpLessEqual    PredicateOp = "<="
	OpGreater      PredicateOp = ">"
	OpGreaterEqual PredicateOp = ">="
)

// Predicate pairs an operator with a reference version.
type Predicate struct {
	Op      PredicateOp
	Version Version
}

// Match reports whether the given version satisfies the predicate.
func (p Predicate) Match(v Version) bool {
	c := v.Compare(p.Version)
	switch p.Op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}

func (p Predicate) String() string {
	return string(p.Op) + " " + p.Version.String()
}

// Atom is a structured reference to a package: a name with an optional
// version predicate and an optional architecture qualifier. Whether the
// name is concrete or virtual is decided at resolution time against the
// catalog.
type Atom struct {
	Name      string
	Arch      string
	Predicate *Predicate
}

func (a Atom) String() string {
	var b strings.Builder
	b.WriteString(a.Name)
	if a.Arch != "" {
		b.WriteByte(':')
		b.WriteString(a.Arch)
	}
	if a.Predicate != nil {
		b.WriteString(" (")
		b.WriteString(string(a.Predicate.Op))
		b.WriteByte(' ')
		b.WriteString(a.Predicate.Version.String())
		b.WriteByte(')')
	}
	return b.String()
}

// Clause is a disjunction of atoms: satisfied when any one atom is.
type Clause []Atom

func (c Clause) String() string {
	parts := make([]string, len(c))
	for i, a := range c {
		parts[i] = a.String()
	}
	return strings.Join(parts, " | ")
}

// Provide is one entry of a Provides field: a virtual name with an
// optional version.
type Provide struct {
	Name    string
	Version *Version
}

// parseOp accepts both the blueprint operators and the dpkg spellings.
// Bare "<" and ">" are treated as strict, matching their modern
// reading.
func parseOp(s string) (PredicateOp, error) {
	switch s {
	case "=":
		return OpEqual, nil
	case "!=":
		return OpNotEqual, nil
	case "<<", "<":
		return OpLess, nil
	case "<=":
		return OpLessEqual, nil
	case ">>", ">":
		return OpGreater, nil
	case ">=":
		return OpGreaterEqual, nil
	}
	return "", errors.Errorf("unknown version operator %q", s)
}

// ParseAtom parses "name[:arch] [(op version)]".
func ParseAtom(s string) (Atom, error) {
	var a Atom
	s = strings.TrimSpace(s)
	rest := s
	if i := strings.IndexByte(rest, '('); i >= 0 {
		j := strings.IndexByte(rest, ')')
		if j < i {
			return a, errors.Errorf("unbalanced parentheses in %q", s)
		}
		inner := strings.TrimSpace(rest[i+1 : j])
		k := 0
		for k < len(inner) && (inner[k] == '<' || inner[k] == '>' || inner[k] == '=' || inner[k] == '!') {
			k++
		}
		op, err := parseOp(inner[:k])
		if err != nil {
			return a, errors.Wrapf(err, "in %q", s)
		}
		ver, err := ParseVersion(strings.TrimSpace(inner[k:]))
		if err != nil {
			return a, errors.Wrapf(err, "in %q", s)
		}
		a.Predicate = &Predicate{Op: op, Version: ver}
		rest = strings.TrimSpace(rest[:i])
	}
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		a.Arch = rest[i+1:]
		rest = rest[:i]
	}
	if rest == "" {
		return a, errors.Errorf("missing package name in %q", s)
	}
	a.Name = rest
	return a, nil
}

// ParseRelations parses a Depends-style field: comma-separated clauses,
// each a "|"-separated list of alternatives. An empty field yields nil.
func ParseRelations(field string) ([]Clause, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	var clauses []Clause
	for _, rawClause := range strings.Split(field, ",") {
		rawClause = strings.TrimSpace(rawClause)
		if rawClause == "" {
			continue
		}
		var clause Clause
		for _, alt := range strings.Split(rawClause, "|") {
			atom, err := ParseAtom(alt)
			if err != nil {
				return nil, err
			}
			clause = append(clause, atom)
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// ParseProvides parses a Provides field: comma-separated names, each
// optionally versioned as "name (= version)".
func ParseProvides(field string) ([]Provide, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	var provides []Provide
	for _, raw := range strings.Split(field, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		atom, err := ParseAtom(raw)
		if err != nil {
			return nil, err
		}
		p := Provide{Name: atom.Name}
		if atom.Predicate != nil {
			if atom.Predicate.Op != OpEqual {
				return nil, errors.Errorf("provides entry %q must use =", raw)
			}
			v := atom.Predicate.Version
			p.Version = &v
		}
		provides = append(provides, p)
	}
	return provides, nil
}
