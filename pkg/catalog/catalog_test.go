package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-pm/praxis/pkg/deb"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func rec(name, version, arch string, mutate ...func(*Record)) *Record {
	r := &Record{
		Identity: Identity{Name: name, Version: deb.MustParseVersion(version), Arch: arch},
		Repo:     "test",
	}
	for _, m := range mutate {
		m(r)
	}
	return r
}

func withDepends(field string) func(*Record) {
	return func(r *Record) {
		clauses, err := deb.ParseRelations(field)
		if err != nil {
			panic(err)
		}
		r.Depends = append(r.Depends, clauses...)
	}
}

func withProvides(field string) func(*Record) {
	return func(r *Record) {
		provides, err := deb.ParseProvides(field)
		if err != nil {
			panic(err)
		}
		r.Provides = append(r.Provides, provides...)
	}
}

func TestCatalogDedup(t *testing.T) {
	c := New([]*Record{
		rec("foo", "1.0", "amd64"),
		rec("foo", "1.0", "amd64"),
		rec("foo", "1.1", "amd64"),
	}, testLogger())

	assert.Equal(t, 2, c.Len())
	candidates := c.Candidates("foo")
	require.Len(t, candidates, 2)
	assert.Equal(t, "1.1", candidates[0].Version.String())
	assert.Equal(t, "1.0", candidates[1].Version.String())
}

func TestCatalogResolveConcrete(t *testing.T) {
	c := New([]*Record{
		rec("foo", "0.5", "amd64"),
		rec("foo", "0.9", "amd64"),
		rec("foo", "1.2", "amd64"),
		rec("foo", "1.2", "arm64"),
	}, testLogger())

	atom := deb.Atom{Name: "foo"}
	got := c.Resolve(atom, "amd64")
	require.Len(t, got, 3)
	assert.Equal(t, "1.2", got[0].Version.String())

	pred := deb.Predicate{Op: deb.OpGreater, Version: deb.MustParseVersion("0.7")}
	atom.Predicate = &pred
	got = c.Resolve(atom, "amd64")
	require.Len(t, got, 2)
	assert.Equal(t, "1.2", got[0].Version.String())
	assert.Equal(t, "0.9", got[1].Version.String())
}

func TestCatalogResolveArchFilter(t *testing.T) {
	c := New([]*Record{
		rec("foo", "1.0", "amd64"),
		rec("foo", "1.0", "arm64"),
		rec("bar", "1.0", "all"),
	}, testLogger())

	got := c.Resolve(deb.Atom{Name: "foo"}, "amd64")
	require.Len(t, got, 1)
	assert.Equal(t, "amd64", got[0].Arch)

	got = c.Resolve(deb.Atom{Name: "bar"}, "amd64")
	require.Len(t, got, 1)
	assert.Equal(t, "all", got[0].Arch)
}

func TestCatalogResolveProvides(t *testing.T) {
	c := New([]*Record{
		rec("postfix", "3.5", "amd64", withProvides("mail-transport-agent")),
		rec("exim4", "4.94", "amd64", withProvides("mail-transport-agent (= 4.94)")),
	}, testLogger())

	got := c.Resolve(deb.Atom{Name: "mail-transport-agent"}, "amd64")
	require.Len(t, got, 2)

	// Only the versioned provide satisfies a versioned predicate.
	pred := deb.Predicate{Op: deb.OpGreaterEqual, Version: deb.MustParseVersion("4.0")}
	got = c.Resolve(deb.Atom{Name: "mail-transport-agent", Predicate: &pred}, "amd64")
	require.Len(t, got, 1)
	assert.Equal(t, "exim4", got[0].Name)
}

func TestCatalogResolveProvidesAndConcrete(t *testing.T) {
	// A name can be both concrete and provided; resolution returns
	// both without duplicates.
	c := New([]*Record{
		rec("httpd", "2.4", "amd64"),
		rec("nginx", "1.18", "amd64", withProvides("httpd")),
	}, testLogger())

	got := c.Resolve(deb.Atom{Name: "httpd"}, "amd64")
	require.Len(t, got, 2)
	assert.Equal(t, "httpd", got[0].Name)
	assert.Equal(t, "nginx", got[1].Name)
}

const indexA = `Package: foo
Version: 1.0-1
Architecture: amd64
Depends: bar (>= 1.0)
Filename: pool/main/f/foo/foo_1.0-1_amd64.deb
Size: 1234
SHA256: 0f3c03e0e31d7a163e5e5e4124e59b504e07c8e6ba2e9d8f4b2f9de7e9eb14a1

Package: bar
Version: 1.0
Architecture: amd64
Filename: pool/main/b/bar/bar_1.0_amd64.deb
Size: 99
SHA256: 2a6b0c1ebfbb28f0e2c0202fcb6a9c5e7da4ec0aafbefc1a7ed14c7dbd5670b6
`

const indexB = `Package: baz
Version: 2.0
Architecture: all
Filename: pool/main/b/baz/baz_2.0_all.deb
Size: 7

Package: broken

Package: qux
Version: 0.1
Architecture: amd64
Filename: pool/main/q/qux/qux_0.1_amd64.deb
Size: 3
`

func writeIndexes(t *testing.T) []IndexSource {
	t.Helper()
	dir := t.TempDir()
	a := filepath.Join(dir, "Packages_a")
	b := filepath.Join(dir, "Packages_b")
	require.NoError(t, os.WriteFile(a, []byte(indexA), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(indexB), 0o644))
	return []IndexSource{
		{Repo: "main", Component: "main", Arch: "amd64", Path: a},
		{Repo: "extra", Component: "main", Arch: "all", Path: b},
	}
}

func TestCatalogLoad(t *testing.T) {
	sources := writeIndexes(t)
	c, err := Load(context.Background(), sources, testLogger())
	require.NoError(t, err)

	// The malformed stanza is skipped, the rest survive.
	assert.Equal(t, 4, c.Len())

	foo := c.Candidates("foo")
	require.Len(t, foo, 1)
	assert.Equal(t, "main", foo[0].Repo)
	require.Len(t, foo[0].Depends, 1)
	assert.Equal(t, "bar", foo[0].Depends[0][0].Name)
	assert.Equal(t, int64(1234), foo[0].Size)
	assert.True(t, strings.HasPrefix(foo[0].SHA256, "0f3c"))
}

func TestCatalogLoadDeterministic(t *testing.T) {
	sources := writeIndexes(t)

	c1, err := Load(context.Background(), sources, testLogger())
	require.NoError(t, err)
	reversed := []IndexSource{sources[1], sources[0]}
	c2, err := Load(context.Background(), reversed, testLogger())
	require.NoError(t, err)

	f1, err := c1.Fingerprint()
	require.NoError(t, err)
	f2, err := c2.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
}

func TestRecordFromStanza(t *testing.T) {
	stanzas, err := deb.ParseControl(strings.NewReader(indexA), "Packages")
	require.NoError(t, err)
	require.Len(t, stanzas, 2)

	r, err := RecordFromStanza(stanzas[0], "main")
	require.NoError(t, err)
	assert.Equal(t, "foo=1.0-1/amd64", r.Identity.String())
	assert.Equal(t, "pool/main/f/foo/foo_1.0-1_amd64.deb", r.Filename)

	_, err = RecordFromStanza(deb.Stanza{Fields: map[string]string{"Package": "x"}}, "main")
	assert.Error(t, err)
}
