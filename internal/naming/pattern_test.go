package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStringPattern(t *testing.T) {
	cases := []struct {
		in   string
		want StringPattern
	}{
		{"*", Any{}},
		{"*src", EndsWith{Suffix: "src"}},
		{"dummy*", StartsWith{Prefix: "dummy"}},
		{"dummy_src", Exact{S: "dummy_src"}},
	}
	for _, c := range cases {
		got, err := ParseStringPattern(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestParseStringPatternErrors(t *testing.T) {
	_, err := ParseStringPattern("")
	assert.Error(t, err)

	_, err = ParseStringPattern("a*b")
	assert.Error(t, err)
}

func TestStringPatternRoundTrip(t *testing.T) {
	for _, s := range []string{"dummy_src", "dummy*", "*src"} {
		p, err := ParseStringPattern(s)
		require.NoError(t, err)
		assert.Equal(t, s, p.String())
	}
}

func TestElementPatternMatches(t *testing.T) {
	plugin, _ := ParseStringPattern("plugin")
	startsWithDummy, _ := ParseStringPattern("dummy*")
	endsWithSrc, _ := ParseStringPattern("*src")
	exactSrc, _ := ParseStringPattern("dummy_src")

	names := []ElementName{
		{Kind: Source, Plugin: "plugin", Element: "dummy_src"},
		{Kind: Transform, Plugin: "plugin", Element: "dummy_tr"},
		{Kind: Output, Plugin: "plugin", Element: "dummy_out"},
	}

	sourceKind := Source
	cases := []struct {
		name  string
		p     ElementPattern
		match []int // indices into names expected to match
	}{
		{"kind=Source", ElementPattern{Kind: &sourceKind, Plugin: plugin, Element: Any{}}, []int{0}},
		{"name=dummy_src", ElementPattern{Plugin: plugin, Element: exactSrc}, []int{0}},
		{"name_pat=StartsWith(dummy)", ElementPattern{Plugin: plugin, Element: startsWithDummy}, []int{0, 1, 2}},
		{"name_pat=EndsWith(src)", ElementPattern{Plugin: plugin, Element: endsWithSrc}, []int{0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got []int
			for i, n := range names {
				if c.p.Matches(n) {
					got = append(got, i)
				}
			}
			assert.Equal(t, c.match, got)
		})
	}
}

func TestAsSourceNamePattern(t *testing.T) {
	transformKind := Transform
	_, err := AsSourceNamePattern(ElementPattern{Kind: &transformKind})
	var incompat *IncompatibleKindError
	assert.ErrorAs(t, err, &incompat)

	p, err := AsSourceNamePattern(ElementPattern{Plugin: Any{}, Element: Any{}})
	require.NoError(t, err)
	assert.Equal(t, Source, *p.Kind)
}

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator()
	a := g.Generate("src")
	b := g.Generate("src")
	assert.NotEqual(t, a, b)
}
