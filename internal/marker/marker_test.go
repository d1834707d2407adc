package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	got := Wrap("<p>Hi</p>", "t.html")
	assert.Equal(t, "<!-- TEMPLATE_START: t.html -->\n<p>Hi</p>\n<!-- TEMPLATE_END: t.html -->", got)
}

func TestReplaceRegion_RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		id      string
		content string
	}{
		{"simple", "t.html", "<p>Hi</p>"},
		{"multiline", "partials/nav.html", "<nav>\n  <a href=\"/\">Home</a>\n</nav>"},
		{"empty", "empty.html", ""},
		{"dollar signs", "price.html", "<b>$1 and $& and ${x}</b>"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := "<html>\n<body>\n"
			after := "\n</body>\n</html>\n"
			text := before + Wrap(tc.content, tc.id) + after

			out, matched := BuildPattern(tc.id).ReplaceRegion(text, "")
			require.True(t, matched)
			assert.Equal(t, before+after, out)
		})
	}
}

func TestReplaceRegion_LiteralReplacement(t *testing.T) {
	p := BuildPattern("t.html")
	text := Wrap("old", "t.html")
	repl := Wrap("cost: $1 $&", "t.html")

	out, matched := p.ReplaceRegion(text, repl)
	require.True(t, matched)
	assert.Equal(t, repl, out)
}

func TestReplaceRegion_NoMatch(t *testing.T) {
	text := "<div>nothing to see</div>"
	out, matched := ReplaceRegion(text, BuildPattern("t.html"), "x")
	assert.False(t, matched)
	assert.Equal(t, text, out)
}

func TestReplaceRegion_OnlyFirstBlock(t *testing.T) {
	block := Wrap("a", "t.html")
	text := block + "\n--\n" + block

	out, matched := BuildPattern("t.html").ReplaceRegion(text, "X")
	require.True(t, matched)
	assert.Equal(t, "X\n--\n"+block, out)
}

func TestBuildPattern_Escaping(t *testing.T) {
	ids := []string{"a.html", "a(1).html", "c++/x.html", "[x]{2}^$|?*.html", `back\slash.html`}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			p := BuildPattern(id)
			assert.True(t, p.Match(Wrap("body", id)))
			assert.Equal(t, id, p.Identifier())
		})
	}

	// "." must not act as a wildcard.
	assert.False(t, BuildPattern("a.html").Match(Wrap("body", "aXhtml")))
	// "+" must not act as a quantifier.
	assert.False(t, BuildPattern("c++.html").Match(Wrap("body", "ccc.html")))
	// Parentheses must not form a group.
	assert.False(t, BuildPattern("a(1).html").Match(Wrap("body", "a1.html")))
}

func TestBuildPattern_IgnoresOtherTemplates(t *testing.T) {
	other := Wrap("other", "b.html")
	mine := Wrap("mine", "a.html")
	text := other + "\n" + mine

	out, matched := BuildPattern("a.html").ReplaceRegion(text, "")
	require.True(t, matched)
	assert.Equal(t, other+"\n", out)
}

func TestBuildPattern_MismatchedSentinels(t *testing.T) {
	text := Start("a.html") + "\nbody\n" + End("b.html")
	assert.False(t, BuildPattern("a.html").Match(text))
	assert.False(t, BuildPattern("b.html").Match(text))
}

func TestPattern_Count(t *testing.T) {
	p := BuildPattern("t.html")
	assert.Equal(t, 0, p.Count("plain"))
	assert.Equal(t, 2, p.Count(Wrap("1", "t.html")+Wrap("2", "t.html")))
}
