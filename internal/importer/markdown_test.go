package importer

import (
	"reflect"
	"testing"
)

func TestParseFileWithFrontmatter(t *testing.T) {
	content := []byte(`---
language: en
location: notes/codes.md
---

Code for Dalia from work is 1234
`)

	parsed, err := ParseFile(content, "notes/codes.md")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if parsed.Language != "en" {
		t.Errorf("expected language en, got %q", parsed.Language)
	}
	if parsed.Location != "notes/codes.md" {
		t.Errorf("expected location from frontmatter, got %q", parsed.Location)
	}
	want := []string{"Code for Dalia from work is 1234"}
	if !reflect.DeepEqual(parsed.Statements, want) {
		t.Errorf("statements = %v, want %v", parsed.Statements, want)
	}
}

func TestParseFileWithoutFrontmatter(t *testing.T) {
	parsed, err := ParseFile([]byte("I bought a red pen\n"), "pen.md")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if parsed.Language != "he" {
		t.Errorf("expected default language he, got %q", parsed.Language)
	}
	if len(parsed.Statements) != 1 || parsed.Statements[0] != "I bought a red pen" {
		t.Errorf("unexpected statements: %v", parsed.Statements)
	}
}

func TestParseFileUnclosedFrontmatter(t *testing.T) {
	content := []byte("---\nlanguage: en\n\nnot actually frontmatter\n")

	parsed, err := ParseFile(content, "broken.md")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	// Without a closing delimiter the whole file is body text.
	if parsed.Language != "he" {
		t.Errorf("expected default language, got %q", parsed.Language)
	}
	want := []string{"--- language: en", "not actually frontmatter"}
	if !reflect.DeepEqual(parsed.Statements, want) {
		t.Errorf("statements = %v, want %v", parsed.Statements, want)
	}
}

func TestParseFileInvalidYAML(t *testing.T) {
	content := []byte("---\nlanguage: [unclosed\n---\nbody\n")

	if _, err := ParseFile(content, "bad.md"); err == nil {
		t.Error("expected error for invalid YAML frontmatter")
	}
}

func TestSplitStatementsBulletsAndParagraphs(t *testing.T) {
	body := `# Shopping

- I bought a red pen
* Milk expires on Friday

The wifi password at the cabin
is hunter2.

Dalia's birthday is in June.
`

	want := []string{
		"I bought a red pen",
		"Milk expires on Friday",
		"The wifi password at the cabin is hunter2.",
		"Dalia's birthday is in June.",
	}
	got := splitStatements(body)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements = %v, want %v", got, want)
	}
}

func TestSplitStatementsHeadingFlushesParagraph(t *testing.T) {
	body := "first line\n## Heading\nsecond line\n"

	want := []string{"first line", "second line"}
	got := splitStatements(body)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements = %v, want %v", got, want)
	}
}

func TestSplitStatementsEmptyBullet(t *testing.T) {
	got := splitStatements("- \n- real item\n")
	want := []string{"real item"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatements = %v, want %v", got, want)
	}
}

func TestStripWikiLinks(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Call [[Dalia]] tomorrow", "Call Dalia tomorrow"},
		{"Ask [[people/dalia|Aunt Dalia]] for the code", "Ask Aunt Dalia for the code"},
		{"[[a]] and [[b|B]]", "a and B"},
		{"no links here", "no links here"},
	}
	for _, tc := range cases {
		if got := stripWikiLinks(tc.in); got != tc.want {
			t.Errorf("stripWikiLinks(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
