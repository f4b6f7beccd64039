package deb

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	type tc struct {
		Name     string
		In       string
		Epoch    int
		Upstream string
		Revision string
		Err      bool
	}

	for _, tt := range []tc{
		{Name: "plain", In: "1.0", Upstream: "1.0"},
		{Name: "revision", In: "1.0-1", Upstream: "1.0", Revision: "1"},
		{Name: "epoch", In: "2:1.0", Epoch: 2, Upstream: "1.0"},
		{Name: "full", In: "1:2.3.4-5+b1", Epoch: 1, Upstream: "2.3.4", Revision: "5+b1"},
		{Name: "hyphenated upstream", In: "1.0-rc1-2", Upstream: "1.0-rc1", Revision: "2"},
		{Name: "tilde", In: "1.0~beta1", Upstream: "1.0~beta1"},
		{Name: "bad epoch", In: "x:1.0", Err: true},
		{Name: "empty", In: "", Err: true},
		{Name: "empty upstream", In: "1:-1", Err: true},
		{Name: "illegal char", In: "1.0_2", Err: true},
	} {
		t.Run(tt.Name, func(t *testing.T) {
			v, err := ParseVersion(tt.In)
			if tt.Err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.Epoch, v.Epoch)
			assert.Equal(t, tt.Upstream, v.Upstream)
			assert.Equal(t, tt.Revision, v.Revision)
		})
	}
}

func TestVersionString(t *testing.T) {
	for _, s := range []string{"1.0", "1.0-1", "2:1.0-1", "1.0~rc1-0+b2"} {
		v := MustParseVersion(s)
		assert.Equal(t, s, v.String())
	}
}

// corpus entries follow the canonical dpkg ordering rules; each line is
// a pair known to order strictly a < b.
var comparisonCorpus = []struct{ a, b string }{
	{"1.0", "1.1"},
	{"1.0", "2.0"},
	{"1.9", "1.10"},
	{"2.0", "10.0"},
	{"1.0", "1.0-1"},
	{"1.0-1", "1.0-2"},
	{"1.0-2", "1.0.1-1"},
	{"0:1.0", "1:0.5"},
	{"1:1.0", "2:0.1"},
	{"1.0~rc1", "1.0"},
	{"1.0~rc1", "1.0~rc2"},
	{"1.0~~", "1.0~"},
	{"1.0~", "1.0"},
	{"1.0", "1.0+b1"},
	{"1.0a", "1.0b"},
	{"1.0a", "1.0aa"},
	{"1.0Z", "1.0a"},
	{"1.0a", "1.0+"},
	{"1.0-1~bpo1", "1.0-1"},
	{"1.2.3", "1.2.3.1"},
	{"09", "10"},
	{"1.0-0", "1.0-00a"},
	{"1.fc24", "1.fc25"},
	{"7.6-0", "7.6p2-4"},
	{"1.0.5-1", "1.1~rc1-1"},
	{"1.18.36", "1.18.36-0.1"},
	{"1.18.35", "1.18.36"},
	{"0.5.0~git", "0.5.0~git2"},
	{"2~", "2"},
	{"2.4.7-1", "2.4.7-z"},
	{"1.00", "1.002-1+b2"},
}

func TestVersionComparisonCorpus(t *testing.T) {
	for _, tt := range comparisonCorpus {
		a := MustParseVersion(tt.a)
		b := MustParseVersion(tt.b)
		assert.Equalf(t, -1, a.Compare(b), "%s < %s", tt.a, tt.b)
		assert.Equalf(t, 1, b.Compare(a), "%s > %s", tt.b, tt.a)
	}
}

func TestVersionEqualities(t *testing.T) {
	for _, tt := range []struct{ a, b string }{
		{"1.0", "1.0"},
		{"0:1.0", "1.0"},
		{"1.0-1", "1.0-1"},
	} {
		a := MustParseVersion(tt.a)
		b := MustParseVersion(tt.b)
		assert.Truef(t, a.Equal(b), "%s == %s", tt.a, tt.b)
	}
}

// The comparison must be a strict total order: antisymmetric and
// transitive over arbitrary shuffles of the corpus values.
func TestVersionTotalOrder(t *testing.T) {
	var all []Version
	seen := map[string]bool{}
	for _, tt := range comparisonCorpus {
		for _, s := range []string{tt.a, tt.b} {
			if !seen[s] {
				seen[s] = true
				all = append(all, MustParseVersion(s))
			}
		}
	}

	for _, a := range all {
		assert.Equal(t, 0, a.Compare(a))
		for _, b := range all {
			assert.Equal(t, a.Compare(b), -b.Compare(a))
		}
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]Version(nil), all...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		sort.SliceStable(shuffled, func(i, j int) bool {
			return shuffled[i].Less(shuffled[j])
		})
		for i := 1; i < len(shuffled); i++ {
			assert.LessOrEqual(t, shuffled[i-1].Compare(shuffled[i]), 0)
		}
	}
}
