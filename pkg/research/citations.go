package research

import (
	"fmt"
	"regexp"
	"strings"
)

var citationPattern = regexp.MustCompile(`\[([^\[\]\n]+)\]`)

// RenumberCitations rewrites every [id] marker that names one of sources to
// [n], numbering sources in order of first appearance, and appends a Sources
// section listing each cited source once. Bracketed text that names no known
// source is left alone.
func RenumberCitations(report string, sources []Source) (string, []Source) {
	known := make(map[string]Source, len(sources))
	for _, s := range sources {
		if s.ID == "" {
			continue
		}
		if _, ok := known[s.ID]; !ok {
			known[s.ID] = s
		}
	}

	numbers := make(map[string]int)
	var cited []Source
	for _, m := range citationPattern.FindAllStringSubmatch(report, -1) {
		id := strings.TrimSpace(m[1])
		src, ok := known[id]
		if !ok {
			continue
		}
		if _, seen := numbers[id]; seen {
			continue
		}
		cited = append(cited, src)
		numbers[id] = len(cited)
	}

	body := citationPattern.ReplaceAllStringFunc(report, func(marker string) string {
		id := strings.TrimSpace(marker[1 : len(marker)-1])
		if n, ok := numbers[id]; ok {
			return fmt.Sprintf("[%d]", n)
		}
		return marker
	})

	if len(cited) == 0 {
		return body, nil
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n\n## Sources\n\n")
	for i, src := range cited {
		title := src.Title
		if title == "" {
			title = src.URL
		}
		fmt.Fprintf(&b, "- [%d] [%s](%s)\n", i+1, title, src.URL)
	}
	return b.String(), cited
}
