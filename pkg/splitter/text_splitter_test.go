package splitter

import (
	"strings"
	"testing"
)

func TestHead(t *testing.T) {
	ts := NewRecursiveCharacterTextSplitter(50, 0)
	paragraphs := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
	}
	text := strings.Join(paragraphs, "\n\n")

	got := ts.Head(text, 1)
	if got != paragraphs[0] {
		t.Errorf("Head(1) = %q, want %q", got, paragraphs[0])
	}
	if got := ts.Head("short", 1); got != "short" {
		t.Errorf("Head(short) = %q", got)
	}
	if got := ts.Head(text, 10); got != text {
		t.Errorf("Head(10) should return the whole text")
	}
}
