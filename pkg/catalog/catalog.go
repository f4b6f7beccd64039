package catalog

import (
	"context"
	"os"
	"sort"

	"github.com/mitchellh/hashstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/praxis-pm/praxis/pkg/deb"
)

// IndexSource names one decompressed Packages index on disk and the
// repository coordinates it came from.
type IndexSource struct {
	Repo      string
	Component string
	Arch      string
	Path      string
}

type providerRef struct {
	rec     *Record
	version *deb.Version
}

// Catalog is the immutable package database built from one or more
// repository indices.
type Catalog struct {
	records  []*Record
	byID     map[Identity]*Record
	byName   map[string][]*Record
	provides map[string][]providerRef
}

// New builds a Catalog from the given records. Records are
// deduplicated by identity (the first occurrence wins; duplicates are
// logged and dropped) and indexed by name, version order, and provided
// virtual names. The result is independent of the argument order up to
// the dedup rule: candidates are sorted structurally, not by insertion.
func New(records []*Record, logger logrus.FieldLogger) *Catalog {
	c := &Catalog{
		byID:     make(map[Identity]*Record, len(records)),
		byName:   make(map[string][]*Record),
		provides: make(map[string][]providerRef),
	}
	for _, r := range records {
		if _, dup := c.byID[r.Identity]; dup {
			if logger != nil {
				logger.WithField("package", r.Identity.String()).Warn("duplicate package record dropped")
			}
			continue
		}
		c.byID[r.Identity] = r
		c.records = append(c.records, r)
		c.byName[r.Name] = append(c.byName[r.Name], r)
		for _, p := range r.Provides {
			ref := providerRef{rec: r}
			if p.Version != nil {
				v := *p.Version
				ref.version = &v
			}
			c.provides[p.Name] = append(c.provides[p.Name], ref)
		}
	}
	for _, candidates := range c.byName {
		sortCandidates(candidates)
	}
	for _, refs := range c.provides {
		sort.SliceStable(refs, func(i, j int) bool {
			return identityLess(refs[i].rec.Identity, refs[j].rec.Identity)
		})
	}
	sort.SliceStable(c.records, func(i, j int) bool {
		return identityLess(c.records[i].Identity, c.records[j].Identity)
	})
	return c
}

// sortCandidates orders same-named records newest first, with
// architecture as a tiebreaker for stability.
func sortCandidates(rs []*Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if c := rs[i].Version.Compare(rs[j].Version); c != 0 {
			return c > 0
		}
		return rs[i].Arch < rs[j].Arch
	})
}

func identityLess(a, b Identity) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if c := a.Version.Compare(b.Version); c != 0 {
		return c > 0
	}
	return a.Arch < b.Arch
}

// Load parses every index in parallel and merges the results into one
// Catalog. Sources are merged in a fixed order so the catalog is a
// deterministic function of index contents regardless of parse timing.
func Load(ctx context.Context, sources []IndexSource, logger logrus.FieldLogger) (*Catalog, error) {
	ordered := append([]IndexSource(nil), sources...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		if a.Component != b.Component {
			return a.Component < b.Component
		}
		return a.Arch < b.Arch
	})

	parsed := make([][]*Record, len(ordered))
	g, ctx := errgroup.WithContext(ctx)
	for i := range ordered {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := parseIndex(ordered[i], logger)
			if err != nil {
				return err
			}
			parsed[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*Record
	for _, records := range parsed {
		all = append(all, records...)
	}
	return New(all, logger), nil
}

func parseIndex(src IndexSource, logger logrus.FieldLogger) ([]*Record, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening index for %s/%s/%s", src.Repo, src.Component, src.Arch)
	}
	defer f.Close()

	stanzas, err := deb.ParseControl(f, src.Path)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(stanzas))
	for _, s := range stanzas {
		r, err := RecordFromStanza(s, src.Repo)
		if err != nil {
			// A single malformed stanza degrades to a log
			// line rather than poisoning the repository.
			if logger != nil {
				logger.WithError(err).WithField("index", src.Path).WithField("line", s.Line).Warn("skipping malformed package stanza")
			}
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Get returns the record with the given identity, or nil.
func (c *Catalog) Get(id Identity) *Record {
	return c.byID[id]
}

// Candidates returns every record with the given name, newest first.
func (c *Catalog) Candidates(name string) []*Record {
	return c.byName[name]
}

// Records returns all records in canonical order.
func (c *Catalog) Records() []*Record {
	return c.records
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// Names returns all package names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// archMatches applies the architecture rules: a record is visible when
// its architecture is the primary one or "all", and, if the atom
// carries a qualifier other than "any", the record must match it.
func archMatches(r *Record, atom deb.Atom, primaryArch string) bool {
	if primaryArch != "" && r.Arch != primaryArch && r.Arch != "all" {
		return false
	}
	if atom.Arch != "" && atom.Arch != "any" && r.Arch != atom.Arch && r.Arch != "all" {
		return false
	}
	return true
}

// Resolve returns the concrete records matching the atom, respecting
// Provides: a virtual name resolves to every package providing it. A
// version predicate is applied to the candidate's own version for
// concrete matches, and to the provided version for virtual matches —
// an unversioned provide never satisfies a versioned predicate.
// Results are in candidate order (newest first, then providers in
// identity order) with duplicates removed.
func (c *Catalog) Resolve(atom deb.Atom, primaryArch string) []*Record {
	var result []*Record
	seen := make(map[Identity]struct{})

	for _, r := range c.byName[atom.Name] {
		if !archMatches(r, atom, primaryArch) {
			continue
		}
		if atom.Predicate != nil && !atom.Predicate.Match(r.Version) {
			continue
		}
		if _, ok := seen[r.Identity]; ok {
			continue
		}
		seen[r.Identity] = struct{}{}
		result = append(result, r)
	}

	for _, ref := range c.provides[atom.Name] {
		if !archMatches(ref.rec, atom, primaryArch) {
			continue
		}
		if atom.Predicate != nil {
			if ref.version == nil || !atom.Predicate.Match(*ref.version) {
				continue
			}
		}
		if _, ok := seen[ref.rec.Identity]; ok {
			continue
		}
		seen[ref.rec.Identity] = struct{}{}
		result = append(result, ref.rec)
	}

	return result
}

// ResolveEntry resolves a name under a conjunction of predicates, the
// shape a blueprint entry takes. Concrete matches must satisfy every
// predicate with their own version; virtual matches with their
// provided version.
func (c *Catalog) ResolveEntry(name string, predicates []deb.Predicate, primaryArch string) []*Record {
	var result []*Record
	seen := make(map[Identity]struct{})

	matchAll := func(v deb.Version) bool {
		for _, p := range predicates {
			if !p.Match(v) {
				return false
			}
		}
		return true
	}

	for _, r := range c.byName[name] {
		if !archMatches(r, deb.Atom{Name: name}, primaryArch) {
			continue
		}
		if !matchAll(r.Version) {
			continue
		}
		if _, ok := seen[r.Identity]; ok {
			continue
		}
		seen[r.Identity] = struct{}{}
		result = append(result, r)
	}
	for _, ref := range c.provides[name] {
		if !archMatches(ref.rec, deb.Atom{Name: name}, primaryArch) {
			continue
		}
		if len(predicates) > 0 && ref.version == nil {
			continue
		}
		if ref.version != nil && !matchAll(*ref.version) {
			continue
		}
		if _, ok := seen[ref.rec.Identity]; ok {
			continue
		}
		seen[ref.rec.Identity] = struct{}{}
		result = append(result, ref.rec)
	}
	return result
}

// Fingerprint returns a deterministic hash of the catalog's identity
// set, used to assert that parallel loads of identical inputs produce
// identical catalogs.
func (c *Catalog) Fingerprint() (uint64, error) {
	ids := make([]string, len(c.records))
	for i, r := range c.records {
		ids[i] = r.Identity.String()
	}
	return hashstructure.Hash(ids, nil)
}
