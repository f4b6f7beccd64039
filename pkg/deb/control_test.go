package deb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIndex = `Package: foo
Version: 1.0-1
Architecture: amd64
Depends: bar (>= 1.0), baz | qux
Description: a package
 with a long description
 .
 spanning lines

Package: bar
Version: 1.0
Architecture: all
`

func TestParseControl(t *testing.T) {
	stanzas, err := ParseControl(strings.NewReader(sampleIndex), "Packages")
	require.NoError(t, err)
	require.Len(t, stanzas, 2)

	assert.Equal(t, "foo", stanzas[0].Get("Package"))
	assert.Equal(t, "1.0-1", stanzas[0].Get("Version"))
	assert.Equal(t, "bar (>= 1.0), baz | qux", stanzas[0].Get("Depends"))
	assert.Equal(t, 1, stanzas[0].Line)
	assert.True(t, strings.Contains(stanzas[0].Get("Description"), "spanning lines"))

	assert.Equal(t, "bar", stanzas[1].Get("Package"))
	assert.True(t, stanzas[1].Has("Architecture"))
	assert.False(t, stanzas[1].Has("Depends"))
}

func TestParseControlErrors(t *testing.T) {
	type tc struct {
		Name string
		In   string
		Line int
	}

	for _, tt := range []tc{
		{Name: "orphan continuation", In: " stray\n", Line: 1},
		{Name: "missing colon", In: "Package: a\nnocolon\n", Line: 2},
		{Name: "space in name", In: "Bad Name: x\n", Line: 1},
		{Name: "duplicate field", In: "A: 1\nA: 2\n", Line: 2},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			_, err := ParseControl(strings.NewReader(tt.In), "f")
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "f", perr.File)
			assert.Equal(t, tt.Line, perr.Line)
		})
	}
}

func TestParseRelations(t *testing.T) {
	clauses, err := ParseRelations("bar (>= 1.0), baz | qux (<< 2.0), virt:any")
	require.NoError(t, err)
	require.Len(t, clauses, 3)

	require.Len(t, clauses[0], 1)
	assert.Equal(t, "bar", clauses[0][0].Name)
	require.NotNil(t, clauses[0][0].Predicate)
	assert.Equal(t, OpGreaterEqual, clauses[0][0].Predicate.Op)
	assert.Equal(t, "1.0", clauses[0][0].Predicate.Version.String())

	require.Len(t, clauses[1], 2)
	assert.Equal(t, "baz", clauses[1][0].Name)
	assert.Nil(t, clauses[1][0].Predicate)
	assert.Equal(t, "qux", clauses[1][1].Name)
	assert.Equal(t, OpLess, clauses[1][1].Predicate.Op)

	require.Len(t, clauses[2], 1)
	assert.Equal(t, "virt", clauses[2][0].Name)
	assert.Equal(t, "any", clauses[2][0].Arch)

	empty, err := ParseRelations("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseRelations("foo (?? 1.0)")
	assert.Error(t, err)
}

func TestParseProvides(t *testing.T) {
	provides, err := ParseProvides("mail-transport-agent, httpd (= 2.4)")
	require.NoError(t, err)
	require.Len(t, provides, 2)
	assert.Equal(t, "mail-transport-agent", provides[0].Name)
	assert.Nil(t, provides[0].Version)
	assert.Equal(t, "httpd", provides[1].Name)
	require.NotNil(t, provides[1].Version)
	assert.Equal(t, "2.4", provides[1].Version.String())

	_, err = ParseProvides("httpd (>= 2.4)")
	assert.Error(t, err)
}

func TestPredicateMatch(t *testing.T) {
	v := MustParseVersion("1.5")
	for _, tt := range []struct {
		op   PredicateOp
		ref  string
		want bool
	}{
		{OpEqual, "1.5", true},
		{OpEqual, "1.4", false},
		{OpNotEqual, "1.4", true},
		{OpLess, "2.0", true},
		{OpLess, "1.5", false},
		{OpLessEqual, "1.5", true},
		{OpGreater, "1.0", true},
		{OpGreater, "1.5", false},
		{OpGreaterEqual, "1.5", true},
	} {
		p := Predicate{Op: tt.op, Version: MustParseVersion(tt.ref)}
		assert.Equalf(t, tt.want, p.Match(v), "1.5 %s %s", tt.op, tt.ref)
	}
}
