package research

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRenumberCitations(t *testing.T) {
	sources := []Source{
		{ID: "a1", Title: "Alpha", URL: "https://a.example"},
		{ID: "b2", Title: "Beta", URL: "https://b.example"},
		{ID: "c3", Title: "", URL: "https://c.example"},
	}
	report := "Intro [b2]. More [a1] and again [b2]. See [not-a-source] and [c3].\n"

	got, cited := RenumberCitations(report, sources)

	want := "Intro [1]. More [2] and again [1]. See [not-a-source] and [3].\n\n## Sources\n\n" +
		"- [1] [Beta](https://b.example)\n" +
		"- [2] [Alpha](https://a.example)\n" +
		"- [3] [https://c.example](https://c.example)\n"
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"b2", "a1", "c3"}, ids(cited))
}

func TestRenumberCitations_NoCitations(t *testing.T) {
	got, cited := RenumberCitations("Nothing cited [here].", []Source{{ID: "x", URL: "https://x.example"}})
	assert.Equal(t, "Nothing cited [here].", got)
	assert.Empty(t, cited)
}

func TestRenumberCitations_DuplicateSourceIDsKeepFirst(t *testing.T) {
	got, _ := RenumberCitations("[x]", []Source{
		{ID: "x", Title: "First", URL: "https://1.example"},
		{ID: "x", Title: "Second", URL: "https://2.example"},
	})
	assert.Contains(t, got, "- [1] [First](https://1.example)")
	assert.NotContains(t, got, "Second")
}

var numberedMarker = regexp.MustCompile(`\[(\d+)\]`)

func TestRenumberCitations_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "sources")
		sources := make([]Source, n)
		for i := range sources {
			sources[i] = Source{ID: fmt.Sprintf("id-%c%d", 'a'+i, i), Title: fmt.Sprintf("Title %d", i), URL: fmt.Sprintf("https://s%d.example", i)}
		}
		picks := rapid.SliceOfN(rapid.IntRange(0, n-1), 0, 30).Draw(t, "citations")

		var b strings.Builder
		var firstSeen []string
		seen := map[string]bool{}
		for i, p := range picks {
			fmt.Fprintf(&b, "Sentence %d [%s]. ", i, sources[p].ID)
			if !seen[sources[p].ID] {
				seen[sources[p].ID] = true
				firstSeen = append(firstSeen, sources[p].ID)
			}
		}

		got, cited := RenumberCitations(b.String(), sources)

		if len(cited) != len(firstSeen) {
			t.Fatalf("cited %d sources, want %d", len(cited), len(firstSeen))
		}
		for i, src := range cited {
			if src.ID != firstSeen[i] {
				t.Fatalf("source %d is %s, want %s", i+1, src.ID, firstSeen[i])
			}
			entry := fmt.Sprintf("- [%d] [%s](%s)\n", i+1, src.Title, src.URL)
			if strings.Count(got, entry) != 1 {
				t.Fatalf("appendix entry %q appears %d times", entry, strings.Count(got, entry))
			}
		}
		for _, src := range sources {
			if strings.Contains(got, "["+src.ID+"]") {
				t.Fatalf("raw marker [%s] survived", src.ID)
			}
		}

		body, _, _ := strings.Cut(got, "\n\n## Sources\n\n")
		for _, m := range numberedMarker.FindAllStringSubmatch(body, -1) {
			var k int
			fmt.Sscan(m[1], &k)
			if k < 1 || k > len(cited) {
				t.Fatalf("marker [%d] has no appendix entry", k)
			}
		}
	})
}

func ids(sources []Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.ID
	}
	return out
}
