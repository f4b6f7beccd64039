// Package blueprint models the user's declared package set: the
// top-level user blueprint plus any vendored overlay files. Entries
// are package names with optional conjunctions of version predicates.
// The user file is editable through the model so the install/remove
// commands can persist intent without disturbing comments.
package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/praxis-pm/praxis/pkg/deb"
)

// Entry is one requested package: a name and zero or more version
// predicates, all of which must hold.
type Entry struct {
	Name       string
	Predicates []deb.Predicate
	// Origin names the file the entry (first) appeared in.
	Origin string
}

// String renders the entry in blueprint syntax.
func (e Entry) String() string {
	if len(e.Predicates) == 0 {
		return e.Name
	}
	parts := make([]string, len(e.Predicates))
	for i, p := range e.Predicates {
		parts[i] = string(p.Op) + " " + p.Version.String()
	}
	return fmt.Sprintf("%s (%s)", e.Name, strings.Join(parts, ", "))
}

// Blueprint is the merged view over the user file and every overlay.
type Blueprint struct {
	entries map[string]*Entry

	userPath  string
	userLines []string
	userNames map[string]int // name -> index into userLines
	overlays  []Entry
	dirty     bool
}

// ParseLine parses a single blueprint entry line, already known to be
// neither blank nor a comment.
func ParseLine(line string) (Entry, error) {
	var e Entry
	line = strings.TrimSpace(line)
	rest := line
	if i := strings.IndexByte(rest, '('); i >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return e, errors.Errorf("unbalanced parentheses in %q", line)
		}
		inner := rest[i+1 : len(rest)-1]
		rest = strings.TrimSpace(rest[:i])
		for _, raw := range strings.Split(inner, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return e, errors.Errorf("empty predicate in %q", line)
			}
			k := 0
			for k < len(raw) && (raw[k] == '<' || raw[k] == '>' || raw[k] == '=' || raw[k] == '!') {
				k++
			}
			pred, err := parsePredicate(raw[:k], strings.TrimSpace(raw[k:]))
			if err != nil {
				return e, errors.Wrapf(err, "in %q", line)
			}
			e.Predicates = append(e.Predicates, pred)
		}
	}
	if rest == "" || strings.ContainsAny(rest, " \t") {
		return e, errors.Errorf("malformed package name in %q", line)
	}
	e.Name = rest
	return e, nil
}

func parsePredicate(op, version string) (deb.Predicate, error) {
	var p deb.Predicate
	atom, err := deb.ParseAtom(fmt.Sprintf("x (%s %s)", op, version))
	if err != nil {
		return p, err
	}
	return *atom.Predicate, nil
}

// parseFile returns the entries of one blueprint file along with its
// raw lines.
func parseFile(path string) ([]Entry, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	var entries []Entry
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		e, err := ParseLine(trimmed)
		if err != nil {
			return nil, nil, &deb.ParseError{File: path, Line: i + 1, Msg: err.Error()}
		}
		e.Origin = path
		entries = append(entries, e)
	}
	return entries, lines, nil
}

// Load reads the user blueprint and every "*.blueprint" file under
// overlayDir (sorted by name). A missing user file is treated as
// empty; a missing overlay directory is not an error. Duplicate names
// merge their predicate sets; contradictions are left for the solver
// to surface.
func Load(userPath, overlayDir string) (*Blueprint, error) {
	b := &Blueprint{
		entries:   make(map[string]*Entry),
		userPath:  userPath,
		userNames: make(map[string]int),
	}

	entries, lines, err := parseFile(userPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, err
	default:
		b.userLines = lines
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			e, lineErr := ParseLine(trimmed)
			if lineErr == nil {
				b.userNames[e.Name] = i
			}
		}
		for _, e := range entries {
			b.merge(e)
		}
	}

	if overlayDir != "" {
		matches, err := filepath.Glob(filepath.Join(overlayDir, "*.blueprint"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, path := range matches {
			entries, _, err := parseFile(path)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				b.overlays = append(b.overlays, e)
				b.merge(e)
			}
		}
	}

	return b, nil
}

// remergeOverlays restores overlay-declared predicates for a name
// whose user entry was just edited or removed.
func (b *Blueprint) remergeOverlays(name string) {
	for _, e := range b.overlays {
		if e.Name == name {
			b.merge(e)
		}
	}
}

func (b *Blueprint) merge(e Entry) {
	if existing, ok := b.entries[e.Name]; ok {
		for _, p := range e.Predicates {
			if !containsPredicate(existing.Predicates, p) {
				existing.Predicates = append(existing.Predicates, p)
			}
		}
		return
	}
	copied := e
	copied.Predicates = append([]deb.Predicate(nil), e.Predicates...)
	b.entries[e.Name] = &copied
}

func containsPredicate(ps []deb.Predicate, p deb.Predicate) bool {
	for _, q := range ps {
		if q.Op == p.Op && q.Version.Compare(p.Version) == 0 {
			return true
		}
	}
	return false
}

// Entries returns the merged entry set sorted by name.
func (b *Blueprint) Entries() []Entry {
	names := make([]string, 0, len(b.entries))
	for name := range b.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]Entry, 0, len(names))
	for _, name := range names {
		result = append(result, *b.entries[name])
	}
	return result
}

// Get returns the merged entry for name, if any.
func (b *Blueprint) Get(name string) (Entry, bool) {
	e, ok := b.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of distinct entry names.
func (b *Blueprint) Len() int {
	return len(b.entries)
}

// Add records a new request in the user blueprint, or replaces the
// predicates of an existing user entry.
func (b *Blueprint) Add(name string, predicates []deb.Predicate) error {
	if name == "" || strings.ContainsAny(name, " \t()") {
		return errors.Errorf("invalid package name %q", name)
	}
	e := Entry{Name: name, Predicates: predicates, Origin: b.userPath}
	line := e.String()
	if i, ok := b.userNames[name]; ok {
		b.userLines[i] = line
	} else {
		b.userLines = append(b.userLines, line)
		b.userNames[name] = len(b.userLines) - 1
	}
	b.dirty = true

	delete(b.entries, name)
	b.merge(e)
	b.remergeOverlays(name)
	return nil
}

// Remove deletes a request from the user blueprint. Removing a name
// that only an overlay declares is an error: vendored overlays are not
// editable.
func (b *Blueprint) Remove(name string) error {
	i, ok := b.userNames[name]
	if !ok {
		if _, overlay := b.entries[name]; overlay {
			return errors.Errorf("%s is declared by a vendored overlay and cannot be removed", name)
		}
		return errors.Errorf("%s is not in the blueprint", name)
	}
	b.userLines = append(b.userLines[:i], b.userLines[i+1:]...)
	delete(b.userNames, name)
	for n, j := range b.userNames {
		if j > i {
			b.userNames[n] = j - 1
		}
	}
	delete(b.entries, name)
	b.remergeOverlays(name)
	b.dirty = true
	return nil
}

// Save writes the user blueprint back to disk if it was modified.
func (b *Blueprint) Save() error {
	if !b.dirty {
		return nil
	}
	var buf strings.Builder
	for _, line := range b.userLines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(b.userPath), 0o755); err != nil {
		return errors.Wrap(err, "creating blueprint directory")
	}
	if err := os.WriteFile(b.userPath, []byte(buf.String()), 0o644); err != nil {
		return errors.Wrap(err, "writing blueprint")
	}
	b.dirty = false
	return nil
}
