package invoke

import (
	"strings"
	"testing"

	"github.com/aster0/aster/internal/research"
	"github.com/aster0/aster/internal/session"
)

func TestCitedCitations(t *testing.T) {
	t.Parallel()

	all := []session.Citation{
		{Index: 1, URL: "https://a"},
		{Index: 2, URL: "https://b"},
		{Index: 3, URL: "https://c"},
	}

	tests := []struct {
		name     string
		text     string
		wantURLs []string
	}{
		{
			name:     "only cited sources kept",
			text:     "claim [1], another [3].",
			wantURLs: []string{"https://a", "https://c"},
		},
		{
			name:     "no markers keeps all",
			text:     "no citations here",
			wantURLs: []string{"https://a", "https://b", "https://c"},
		},
		{
			name:     "out-of-range markers keep all",
			text:     "bogus [9]",
			wantURLs: []string{"https://a", "https://b", "https://c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := citedCitations(tt.text, all)
			if len(got) != len(tt.wantURLs) {
				t.Fatalf("got %d citations, want %d", len(got), len(tt.wantURLs))
			}
			for i, u := range tt.wantURLs {
				if got[i].URL != u {
					t.Errorf("citation %d = %q, want %q", i, got[i].URL, u)
				}
			}
		})
	}
}

func TestDedupeByURL(t *testing.T) {
	t.Parallel()

	in := []session.Citation{
		{Index: 1, URL: "https://a"},
		{Index: 2, URL: "https://b"},
		{Index: 3, URL: "https://a"},
	}
	got := dedupeByURL(in)
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got[0].Index != 1 || got[1].Index != 2 {
		t.Errorf("indexes = %d, %d; first appearance should win", got[0].Index, got[1].Index)
	}
}

func TestBuildSearchPrompt(t *testing.T) {
	t.Parallel()

	results := []research.SearchResult{
		{Title: "Go Blog", URL: "https://go.dev/blog", Snippet: "news"},
		{Title: "Spec", URL: "https://go.dev/ref/spec", Snippet: "reference"},
	}
	got := buildSearchPrompt("what is go", results)
	if !strings.Contains(got, "[1] Go Blog") || !strings.Contains(got, "[2] Spec") {
		t.Errorf("prompt missing numbered sources:\n%s", got)
	}
	if !strings.Contains(got, "Question: what is go") {
		t.Errorf("prompt missing question:\n%s", got)
	}

	empty := buildSearchPrompt("q", nil)
	if !strings.Contains(empty, "No web sources") {
		t.Errorf("empty-results prompt = %q", empty)
	}
}

func TestWithMemories(t *testing.T) {
	t.Parallel()

	if got := withMemories("sys", ""); got != "sys" {
		t.Errorf("withMemories(no memories) = %q", got)
	}
	got := withMemories("sys", "- likes Go")
	if !strings.Contains(got, "likes Go") || !strings.HasPrefix(got, "sys") {
		t.Errorf("withMemories() = %q", got)
	}
}

func TestParseCanvasOutput(t *testing.T) {
	t.Parallel()

	text := "TITLE: HTTP server\nHere it is.\n```go\npackage main\n\nfunc main() {}\n```\nDone."
	title, lang, body := parseCanvasOutput(text)
	if title != "HTTP server" {
		t.Errorf("title = %q", title)
	}
	if lang != "go" {
		t.Errorf("lang = %q", lang)
	}
	if !strings.HasPrefix(body, "package main") {
		t.Errorf("body = %q", body)
	}

	if _, _, body := parseCanvasOutput("no fences at all"); body != "" {
		t.Errorf("body = %q, want empty", body)
	}
}

func TestMimeForLanguage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"html":     "text/html",
		"json":     "application/json",
		"":         "text/markdown",
		"markdown": "text/markdown",
		"go":       "text/plain",
	}
	for lang, want := range tests {
		if got := mimeForLanguage(lang); got != want {
			t.Errorf("mimeForLanguage(%q) = %q, want %q", lang, got, want)
		}
	}
}
