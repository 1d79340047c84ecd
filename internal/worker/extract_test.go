package worker

import (
	"testing"
)

func TestExtractTitle(t *testing.T) {
	html := `<html><head><title> Breaking News </title></head><body></body></html>`
	if got := ExtractTitle(html); got != "Breaking News" {
		t.Errorf("title = %q", got)
	}
	if got := ExtractTitle(`<html><body>no title</body></html>`); got != "" {
		t.Errorf("expected empty title, got %q", got)
	}
}

func TestExtractAuthor(t *testing.T) {
	html := `<head><meta name="author" content="Jane Doe"><meta name="viewport" content="x"></head>`
	if got := ExtractAuthor(html); got != "Jane Doe" {
		t.Errorf("author = %q", got)
	}
	if got := ExtractAuthor(`<head></head>`); got != "" {
		t.Errorf("expected empty author, got %q", got)
	}
}

func TestExtractLinks(t *testing.T) {
	html := `
		<a href="/2026/08/01/story-one">one</a>
		<a class="nav" href="https://other.example.org/abs">two</a>
		<a href="relative/story-two">three</a>
		<a href="/2026/08/01/story-one">duplicate</a>
		<a href="mailto:tips@news.example.com">mail</a>
		<a href="javascript:void(0)">js</a>`

	links := ExtractLinks(html, "https://news.example.com/2026/08/01")

	want := []string{
		"https://news.example.com/2026/08/01/story-one",
		"https://other.example.org/abs",
		"https://news.example.com/2026/08/relative/story-two",
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links %v, want %d", len(links), links, len(want))
	}
	for i, w := range want {
		if links[i] != w {
			t.Errorf("link %d = %q, want %q", i, links[i], w)
		}
	}
}

func TestTopKeywords(t *testing.T) {
	text := `crawler crawler crawler schedule schedule broker
		the with from a an to of`

	entries := TopKeywords(text, 2)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Keyword != "crawler" || entries[0].Frequency != 3 {
		t.Errorf("top entry = %+v", entries[0])
	}
	if entries[1].Keyword != "schedule" || entries[1].Frequency != 2 {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestTopKeywordsSkipsShortAndStopwords(t *testing.T) {
	entries := TopKeywords("the cat sat with that this from", 10)
	for _, e := range entries {
		if len(e.Keyword) < 4 {
			t.Errorf("short word indexed: %q", e.Keyword)
		}
		if _, bad := stopwords[e.Keyword]; bad {
			t.Errorf("stopword indexed: %q", e.Keyword)
		}
	}
}

func TestTopKeywordsStableTieBreak(t *testing.T) {
	entries := TopKeywords("zebra apple zebra apple", 2)
	if entries[0].Keyword != "apple" || entries[1].Keyword != "zebra" {
		t.Errorf("ties must order alphabetically: %+v", entries)
	}
}

func TestDateListingURL(t *testing.T) {
	got := DateListingURL("https://news.example.com/", "2026", "08", "01")
	if got != "https://news.example.com/2026/08/01" {
		t.Errorf("listing url = %q", got)
	}
}
