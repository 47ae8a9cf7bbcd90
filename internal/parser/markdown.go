// Package parser prepares pasted Markdown for submission as a session document.
package parser

import (
	"bufio"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	linkRegex    = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	mentionRegex = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title extracted from frontmatter or the first heading
	Title string

	// Body after the frontmatter block
	Content string

	// Headings in document order
	Headings []Heading
}

// Heading is a Markdown heading and the line it starts on.
type Heading struct {
	Level int
	Text  string
	Line  int
}

// ParseMarkdown parses a Markdown document. Malformed frontmatter is an error
// so the user can fix it before the document is submitted.
func ParseMarkdown(content string) (*MarkdownDoc, error) {
	doc := &MarkdownDoc{
		Frontmatter: make(map[string]any),
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			frontmatterYAML := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")

			if err := yaml.Unmarshal([]byte(frontmatterYAML), &doc.Frontmatter); err != nil {
				return nil, fmt.Errorf("parse frontmatter: %w", err)
			}
			if doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Content = remaining
	doc.Headings = parseHeadings(remaining)
	doc.Title = extractTitle(doc.Frontmatter, remaining, doc.Headings)

	return doc, nil
}

// extractTitle gets title from frontmatter, the first h1, or the first heading.
func extractTitle(fm map[string]any, content string, headings []Heading) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if name, ok := fm["name"].(string); ok && name != "" {
		return name
	}

	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	if len(headings) > 0 {
		return headings[0].Text
	}
	return ""
}

func parseHeadings(content string) []Heading {
	var headings []Heading
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	inFence := false
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			headings = append(headings, Heading{
				Level: len(match[1]),
				Text:  strings.TrimSpace(match[2]),
				Line:  lineNum,
			})
		}
	}
	return headings
}

// GetFrontmatterString extracts a string from frontmatter.
func (d *MarkdownDoc) GetFrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}

// GetFrontmatterStringSlice extracts a string slice from frontmatter.
// A single string value is returned as a one-element slice.
func (d *MarkdownDoc) GetFrontmatterStringSlice(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// ExtractWikiLinks finds [[wiki-style]] links in content.
func ExtractWikiLinks(content string) []string {
	matches := linkRegex.FindAllStringSubmatch(content, -1)

	links := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, match := range matches {
		link := strings.TrimSpace(match[1])
		if !seen[link] {
			links = append(links, link)
			seen[link] = true
		}
	}
	return links
}

// ExtractMentions finds @mentions in content.
func ExtractMentions(content string) []string {
	matches := mentionRegex.FindAllStringSubmatch(content, -1)

	mentions := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, match := range matches {
		mention := strings.ToLower(match[1])
		if !seen[mention] {
			mentions = append(mentions, mention)
			seen[mention] = true
		}
	}
	return mentions
}

// Pasted is a session document ready for submission.
type Pasted struct {
	Title    string
	Content  string
	Labels   []string
	Metadata map[string]any
}

// maxUntitledTitle bounds titles derived from the first line of untitled text.
const maxUntitledTitle = 60

// PreparePasted turns pasted text into a session document. Title and labels
// come from frontmatter when present; extra labels are merged in.
func PreparePasted(content string, extraLabels []string) (Pasted, error) {
	if strings.TrimSpace(content) == "" {
		return Pasted{}, fmt.Errorf("pasted document is empty")
	}

	doc, err := ParseMarkdown(content)
	if err != nil {
		return Pasted{}, err
	}

	title := doc.Title
	if title == "" {
		title = firstLine(doc.Content)
	}

	labels := append(doc.GetFrontmatterStringSlice("labels"), doc.GetFrontmatterStringSlice("tags")...)
	labels = append(labels, extraLabels...)
	for i, l := range labels {
		labels[i] = strings.ToLower(strings.TrimSpace(l))
	}
	labels = slices.DeleteFunc(labels, func(l string) bool { return l == "" })
	slices.Sort(labels)
	labels = slices.Compact(labels)

	metadata := map[string]any{
		"headings": len(doc.Headings),
	}
	if links := ExtractWikiLinks(doc.Content); len(links) > 0 {
		metadata["links"] = links
	}
	if mentions := ExtractMentions(doc.Content); len(mentions) > 0 {
		metadata["mentions"] = mentions
	}
	if source := doc.GetFrontmatterString("source"); source != "" {
		metadata["source"] = source
	}

	return Pasted{
		Title:    title,
		Content:  doc.Content,
		Labels:   labels,
		Metadata: metadata,
	}, nil
}

func firstLine(content string) string {
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxUntitledTitle {
			runes := []rune(line)
			return strings.TrimSpace(string(runes[:maxUntitledTitle])) + "…"
		}
		return line
	}
	return "Untitled"
}
