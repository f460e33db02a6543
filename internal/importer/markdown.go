// Package importer loads memory statements from Markdown files. Each file
// carries optional YAML frontmatter (language, location, date) and a body;
// the body is split into one statement per paragraph or bullet so a note
// file becomes several individually retrievable memories.
package importer

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParsedFile is one Markdown file reduced to memory statements.
type ParsedFile struct {
	// RelativePath is the path relative to the import root directory.
	RelativePath string

	// Language comes from the frontmatter "language" field (default "he").
	Language string

	// Location comes from the frontmatter "location" field, if present.
	Location string

	// Statements are the individual memory texts extracted from the body.
	Statements []string
}

type frontmatter struct {
	Language string `yaml:"language"`
	Location string `yaml:"location"`
}

var wikiLinkRe = regexp.MustCompile(`\[\[([^\]|]+)(\|([^\]]+))?\]\]`)

// ParseFile parses one Markdown file's content into memory statements.
func ParseFile(content []byte, relativePath string) (*ParsedFile, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, fmt.Errorf("frontmatter parse error in %s: %w", relativePath, err)
	}

	language := fm.Language
	if language == "" {
		language = "he"
	}

	return &ParsedFile{
		RelativePath: relativePath,
		Language:     language,
		Location:     fm.Location,
		Statements:   splitStatements(body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between --- delimiters) from
// the Markdown body. Returns zero frontmatter and the full text when none is
// found.
func splitFrontmatter(text string) (frontmatter, string, error) {
	var fm frontmatter

	scanner := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return fm, text, nil
	}

	closeIdx := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			closeIdx = i
			break
		}
	}
	if closeIdx == -1 {
		return fm, text, nil
	}

	fmText := strings.Join(lines[1:closeIdx], "\n")
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return fm, text, fmt.Errorf("invalid YAML: %w", err)
	}
	return fm, strings.Join(lines[closeIdx+1:], "\n"), nil
}

// splitStatements breaks a Markdown body into memory statements. Bullets
// become one statement each; other text is grouped by blank-line separated
// paragraphs. Headings and wiki-link syntax are stripped.
func splitStatements(body string) []string {
	var statements []string
	var paragraph []string

	flush := func() {
		if len(paragraph) > 0 {
			statements = append(statements, strings.Join(paragraph, " "))
			paragraph = nil
		}
	}

	for _, line := range strings.Split(body, "\n") {
		line = stripWikiLinks(strings.TrimSpace(line))
		switch {
		case line == "", strings.HasPrefix(line, "#"):
			flush()
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			flush()
			if text := strings.TrimSpace(line[2:]); text != "" {
				statements = append(statements, text)
			}
		default:
			paragraph = append(paragraph, line)
		}
	}
	flush()
	return statements
}

// stripWikiLinks replaces [[target]] and [[target|label]] with their
// readable text.
func stripWikiLinks(line string) string {
	return wikiLinkRe.ReplaceAllStringFunc(line, func(match string) string {
		groups := wikiLinkRe.FindStringSubmatch(match)
		if groups[3] != "" {
			return groups[3]
		}
		return groups[1]
	})
}
