package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-pm/praxis/pkg/catalog"
	"github.com/praxis-pm/praxis/pkg/installed"
	"github.com/praxis-pm/praxis/pkg/plan"
)

func planFor(t *testing.T, cat *catalog.Catalog, blueprintLines []string, snap installed.Snapshot) []string {
	t.Helper()
	selected, err := resolve(t, cat, entries(blueprintLines...), snap)
	require.NoError(t, err)
	actions := plan.New(testLogger()).Build(selected, snap, cat)
	result := make([]string, len(actions))
	for i, a := range actions {
		result[i] = a.String()
	}
	return result
}

// The four satisfiable end-to-end scenarios, resolved and planned.
func TestScenarioPlans(t *testing.T) {
	t.Run("trivial install", func(t *testing.T) {
		cat := catalog.New([]*catalog.Record{rec("foo", "1.0")}, testLogger())
		got := planFor(t, cat, []string{"foo"}, snapshotOf())
		assert.Equal(t, []string{"install foo=1.0"}, got)
	})

	t.Run("upgrade preference", func(t *testing.T) {
		cat := catalog.New([]*catalog.Record{
			rec("foo", "1.0"),
			rec("foo", "1.1"),
		}, testLogger())
		got := planFor(t, cat, []string{"foo"}, snapshotOf("foo", "1.0"))
		assert.Equal(t, []string{"upgrade foo 1.0 -> 1.1"}, got)
	})

	t.Run("blocked upgrade", func(t *testing.T) {
		cat := catalog.New([]*catalog.Record{
			rec("foo", "1.0", depends("bar (= 1.0)")),
			rec("foo", "1.1", depends("bar (= 2.0)")),
			rec("bar", "1.0"),
			rec("bar", "2.0"),
		}, testLogger())
		got := planFor(t, cat, []string{"foo"}, snapshotOf("foo", "1.0", "bar", "1.0"))
		assert.Empty(t, got)
	})

	t.Run("redundant package removal", func(t *testing.T) {
		cat := catalog.New([]*catalog.Record{
			rec("foo", "1.0", depends("bar (= 1.0)")),
			rec("bar", "1.0"),
			rec("baz", "1.0"),
		}, testLogger())
		got := planFor(t, cat, []string{"foo"},
			snapshotOf("foo", "1.0", "bar", "1.0", "baz", "1.0"))
		assert.Equal(t, []string{"remove baz=1.0"}, got)
	})
}
