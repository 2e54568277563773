package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return doc
}

const lorem = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua."

func TestReadable_Landmark(t *testing.T) {
	doc := parse(t, `<html><head><title> Post </title></head><body>
		<nav><a href="/">Home</a></nav>
		<article><h1>Post</h1><p>`+lorem+`</p><script>alert(1)</script></article>
		<footer>(c) site</footer></body></html>`)

	a := Readable(doc, 0)
	assert.Equal(t, "Post", a.Title)
	out := InnerHTML(a.Content)
	assert.Contains(t, out, "<article>")
	assert.Contains(t, out, lorem)
	assert.NotContains(t, out, "Home")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "(c) site")
}

func TestReadable_DensityFallback(t *testing.T) {
	doc := parse(t, `<html><body>
		<div class="menu"><a href="/a">A</a><a href="/b">B</a></div>
		<div id="story"><p>`+lorem+`</p><p>`+lorem+`</p></div>
		</body></html>`)

	a := Readable(doc, 0)
	out := InnerHTML(a.Content)
	assert.Contains(t, out, lorem)
	assert.NotContains(t, out, `href="/a"`)
}

func TestReadable_ShortPageKeepsBody(t *testing.T) {
	doc := parse(t, `<html><body><p>tiny</p><nav>menu</nav></body></html>`)
	a := Readable(doc, 0)
	assert.Equal(t, "tiny", a.Text)
}

func TestTitle_Fallbacks(t *testing.T) {
	assert.Equal(t, "OG", Title(parse(t, `<html><head><meta property="og:title" content="OG"></head></html>`)))
	assert.Equal(t, "Heading", Title(parse(t, `<html><body><h1>Heading</h1></body></html>`)))
}

func TestMeta(t *testing.T) {
	doc := parse(t, `<html><head>
		<meta property="article:published_time" content="2024-03-05T10:00:00Z">
		<meta name="author" content=" Ann ">
		</head></html>`)
	assert.Equal(t, "2024-03-05T10:00:00Z", Meta(doc, "article:published_time"))
	assert.Equal(t, "Ann", Meta(doc, "author"))
	assert.Empty(t, Meta(doc, "article:modified_time"))
}

func TestQuerySelectorAll(t *testing.T) {
	doc := parse(t, `<div id="a" class="x y"><p class="y">1</p><span><p>2</p></span></div><p>3</p>`)
	assert.Len(t, QuerySelectorAll(doc, "p"), 3)
	assert.Len(t, QuerySelectorAll(doc, "div p"), 2)
	assert.Len(t, QuerySelectorAll(doc, "#a"), 1)
	assert.Len(t, QuerySelectorAll(doc, ".y"), 2)
	assert.Len(t, QuerySelectorAll(doc, "p.y"), 1)
	assert.Len(t, QuerySelectorAll(doc, "div[id=a]"), 1)
	assert.Empty(t, QuerySelectorAll(doc, ""))
}
