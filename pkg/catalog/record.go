// Package catalog maintains the in-memory package database: every
// package record known across all repository indices, deduplicated by
// identity, with secondary indices for version lookup and virtual
// (Provides) resolution.
package catalog

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/praxis-pm/praxis/pkg/deb"
)

// Identity is the triple that uniquely names a package.
type Identity struct {
	Name    string
	Version deb.Version
	Arch    string
}

// String returns the canonical "name=version/arch" spelling used in
// logs, solver identifiers, and plan output.
func (id Identity) String() string {
	return fmt.Sprintf("%s=%s/%s", id.Name, id.Version, id.Arch)
}

// Record is one package stanza from a repository index, immutable
// after load.
type Record struct {
	Identity
	// Depends holds the conjunction of dependency clauses, each a
	// disjunction of atoms. Pre-Depends is folded in.
	Depends []deb.Clause
	// Conflicts holds the conflict atoms. Breaks is folded in;
	// both are treated as hard conflicts.
	Conflicts []deb.Atom
	Provides  []deb.Provide
	Size      int64
	// Filename is the artifact path relative to the repository
	// root.
	Filename string
	SHA256   string
	// Repo names the repository the record was loaded from.
	Repo string
}

var (
	dependencyFields = []string{"Depends", "Pre-Depends"}
	conflictFields   = []string{"Breaks", "Conflicts"}
)

// RecordFromStanza builds a Record from one control stanza of a
// Packages index.
func RecordFromStanza(s deb.Stanza, repo string) (*Record, error) {
	name := s.Get("Package")
	if name == "" {
		return nil, errors.New("stanza has no Package field")
	}
	version, err := deb.ParseVersion(s.Get("Version"))
	if err != nil {
		return nil, errors.Wrapf(err, "package %s", name)
	}
	arch := s.Get("Architecture")
	if arch == "" {
		return nil, errors.Errorf("package %s has no Architecture field", name)
	}

	r := &Record{
		Identity: Identity{Name: name, Version: version, Arch: arch},
		Filename: s.Get("Filename"),
		SHA256:   s.Get("SHA256"),
		Repo:     repo,
	}

	if raw := s.Get("Size"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "package %s: bad Size", name)
		}
		r.Size = size
	}

	for _, field := range dependencyFields {
		clauses, err := deb.ParseRelations(s.Get(field))
		if err != nil {
			return nil, errors.Wrapf(err, "package %s: %s", name, field)
		}
		r.Depends = append(r.Depends, clauses...)
	}
	for _, field := range conflictFields {
		clauses, err := deb.ParseRelations(s.Get(field))
		if err != nil {
			return nil, errors.Wrapf(err, "package %s: %s", name, field)
		}
		for _, clause := range clauses {
			r.Conflicts = append(r.Conflicts, clause...)
		}
	}

	r.Provides, err = deb.ParseProvides(s.Get("Provides"))
	if err != nil {
		return nil, errors.Wrapf(err, "package %s: Provides", name)
	}

	return r, nil
}
