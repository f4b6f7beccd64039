package plan

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/deb"
	"github.com/praxis-pm/praxis/pkg/installed"
)

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func rec(name, version string, dependsOn ...string) *catalog.Record {
	r := &catalog.Record{
		Identity: catalog.Identity{
			Name:    name,
			Version: deb.MustParseVersion(version),
			Arch:    "amd64",
		},
		Filename: "pool/" + name + ".deb",
		SHA256:   "deadbeef",
		Size:     1,
		Repo:     "main",
	}
	for _, dep := range dependsOn {
		clauses, err := deb.ParseRelations(dep)
		if err != nil {
			panic(err)
		}
		r.Depends = append(r.Depends, clauses...)
	}
	return r
}

func snapshotOf(pairs ...string) installed.Snapshot {
	s := make(installed.Snapshot)
	for i := 0; i+1 < len(pairs); i += 2 {
		s[pairs[i]] = installed.Package{
			Name:    pairs[i],
			Version: deb.MustParseVersion(pairs[i+1]),
			Arch:    "amd64",
		}
	}
	return s
}

func actionStrings(actions []Action) []string {
	result := make([]string, len(actions))
	for i, a := range actions {
		result[i] = a.String()
	}
	return result
}

func TestPlanTrivialInstall(t *testing.T) {
	foo := rec("foo", "1.0")
	cat := catalog.New([]*catalog.Record{foo}, testLogger())

	actions := New(testLogger()).Build([]*catalog.Record{foo}, snapshotOf(), cat)
	assert.Equal(t, []string{"install foo=1.0"}, actionStrings(actions))
	require.NotNil(t, actions[0].Artifact)
	assert.Equal(t, "pool/foo.deb", actions[0].Artifact.Filename)
}

func TestPlanUpgradeAndDowngrade(t *testing.T) {
	foo := rec("foo", "1.1")
	bar := rec("bar", "0.9")
	cat := catalog.New([]*catalog.Record{foo, bar}, testLogger())

	actions := New(testLogger()).Build(
		[]*catalog.Record{foo, bar},
		snapshotOf("foo", "1.0", "bar", "1.0"),
		cat,
	)
	got := actionStrings(actions)
	sort.Strings(got)
	assert.Equal(t, []string{
		"downgrade bar 1.0 -> 0.9",
		"upgrade foo 1.0 -> 1.1",
	}, got)
}

func TestPlanRemoveOnly(t *testing.T) {
	cat := catalog.New(nil, testLogger())
	actions := New(testLogger()).Build(nil, snapshotOf("baz", "1.0"), cat)
	assert.Equal(t, []string{"remove baz=1.0"}, actionStrings(actions))
	assert.Nil(t, actions[0].Artifact)
}

func TestPlanUnchangedPackageAbsent(t *testing.T) {
	foo := rec("foo", "1.0")
	cat := catalog.New([]*catalog.Record{foo}, testLogger())
	actions := New(testLogger()).Build([]*catalog.Record{foo}, snapshotOf("foo", "1.0"), cat)
	assert.Empty(t, actions)
}

func TestPlanInstallOrderRespectsDependencies(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")
	tool := rec("tool", "1.0", "app, lib")
	cat := catalog.New([]*catalog.Record{lib, app, tool}, testLogger())

	actions := New(testLogger()).Build([]*catalog.Record{tool, app, lib}, snapshotOf(), cat)
	assert.Equal(t, []string{
		"install lib=1.0",
		"install app=1.0",
		"install tool=1.0",
	}, actionStrings(actions))
}

func TestPlanRemovalOrderReversesDependencies(t *testing.T) {
	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")
	cat := catalog.New([]*catalog.Record{lib, app}, testLogger())

	actions := New(testLogger()).Build(nil, snapshotOf("lib", "1.0", "app", "1.0"), cat)
	assert.Equal(t, []string{
		"remove app=1.0",
		"remove lib=1.0",
	}, actionStrings(actions))
}

func TestPlanRemovalsPrecedeInstalls(t *testing.T) {
	neu := rec("new-tool", "1.0")
	cat := catalog.New([]*catalog.Record{neu}, testLogger())

	actions := New(testLogger()).Build([]*catalog.Record{neu}, snapshotOf("old-tool", "1.0"), cat)
	assert.Equal(t, []string{
		"remove old-tool=1.0",
		"install new-tool=1.0",
	}, actionStrings(actions))
}

func TestPlanCycleBroken(t *testing.T) {
	a := rec("cyc-a", "1.0", "cyc-b")
	b := rec("cyc-b", "1.0", "cyc-a")
	cat := catalog.New([]*catalog.Record{a, b}, testLogger())

	actions := New(testLogger()).Build([]*catalog.Record{a, b}, snapshotOf(), cat)
	// The edge with the lowest source name (cyc-a -> cyc-b) is
	// broken, so cyc-b installs first.
	assert.Equal(t, []string{
		"install cyc-b=1.0",
		"install cyc-a=1.0",
	}, actionStrings(actions))
}

func TestPlanProviderOrderedBeforeDependent(t *testing.T) {
	mta := rec("postfix", "3.5")
	mta.Provides = []deb.Provide{{Name: "mail-transport-agent"}}
	mutt := rec("mutt", "2.0", "mail-transport-agent")
	cat := catalog.New([]*catalog.Record{mta, mutt}, testLogger())

	actions := New(testLogger()).Build([]*catalog.Record{mutt, mta}, snapshotOf(), cat)
	assert.Equal(t, []string{
		"install postfix=3.5",
		"install mutt=2.0",
	}, actionStrings(actions))
}

// The plan is a permutation of the symmetric difference and orders
// prerequisites before dependents among installs, dependents before
// prerequisites among removals.
func TestPlanPermutationProperty(t *testing.T) {
	lib := rec("lib", "2.0")
	app := rec("app", "2.0", "lib")
	gone := rec("gone", "1.0", "alsogone")
	alsogone := rec("alsogone", "1.0")
	cat := catalog.New([]*catalog.Record{lib, app, gone, alsogone}, testLogger())

	snapshot := snapshotOf("lib", "1.0", "gone", "1.0", "alsogone", "1.0")
	selected := []*catalog.Record{app, lib}

	actions := New(testLogger()).Build(selected, snapshot, cat)

	counts := map[string]int{}
	position := map[string]int{}
	for i, a := range actions {
		counts[a.Op.String()+":"+a.Name]++
		position[a.Name] = i
	}
	assert.Equal(t, map[string]int{
		"remove:gone":     1,
		"remove:alsogone": 1,
		"upgrade:lib":     1,
		"install:app":     1,
	}, counts)

	assert.Less(t, position["gone"], position["alsogone"], "dependent removed before its prerequisite")
	assert.Less(t, position["lib"], position["app"], "prerequisite before dependent")
	assert.Less(t, position["alsogone"], position["lib"], "removals precede changes")
}

func TestCycleBreakDeterminism(t *testing.T) {
	a := rec("a", "1.0", "b")
	b := rec("b", "1.0", "c")
	c := rec("c", "1.0", "a")
	cat := catalog.New([]*catalog.Record{a, b, c}, testLogger())

	first := actionStrings(New(testLogger()).Build([]*catalog.Record{a, b, c}, snapshotOf(), cat))
	for i := 0; i < 5; i++ {
		again := actionStrings(New(testLogger()).Build([]*catalog.Record{c, a, b}, snapshotOf(), cat))
		assert.Empty(t, cmp.Diff(first, again))
	}
}
