// Package installed reads the snapshot of currently installed
// packages. The snapshot is taken once at the start of a
// reconciliation and never re-polled; concurrent external mutation is
// outside the core's consistency guarantees.
package installed

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/praxis-pm/praxis/pkg/deb"
)

// Package is one installed (name, version, architecture) tuple.
type Package struct {
	Name    string
	Version deb.Version
	Arch    string
}

// Snapshot maps installed package names to their installed state.
type Snapshot map[string]Package

// StatusPath returns the dpkg status database location under a root.
func StatusPath(root string) string {
	return filepath.Join(root, "var/lib/dpkg/status")
}

// Read parses a dpkg status database. Only stanzas whose Status field
// ends in "installed" contribute to the snapshot. A missing status
// file yields an empty snapshot: a pristine root has nothing
// installed.
func Read(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening status database")
	}
	defer f.Close()

	stanzas, err := deb.ParseControl(f, path)
	if err != nil {
		return nil, err
	}

	snapshot := make(Snapshot, len(stanzas))
	for _, s := range stanzas {
		status := s.Get("Status")
		if !strings.HasSuffix(status, " installed") {
			continue
		}
		name := s.Get("Package")
		if name == "" {
			continue
		}
		version, err := deb.ParseVersion(s.Get("Version"))
		if err != nil {
			return nil, errors.Wrapf(err, "installed package %s", name)
		}
		snapshot[name] = Package{
			Name:    name,
			Version: version,
			Arch:    s.Get("Architecture"),
		}
	}
	return snapshot, nil
}

// Get returns the installed state for a name.
func (s Snapshot) Get(name string) (Package, bool) {
	p, ok := s[name]
	return p, ok
}

// Names returns the installed package names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
