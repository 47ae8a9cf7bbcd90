package parser

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseMarkdown(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantTitle    string
		wantHeadings int
		wantBody     string
	}{
		{
			name:         "frontmatter title wins",
			content:      "---\ntitle: From Frontmatter\n---\n# Heading\n\nbody",
			wantTitle:    "From Frontmatter",
			wantHeadings: 1,
			wantBody:     "# Heading\n\nbody",
		},
		{
			name:         "name used when no title",
			content:      "---\nname: Named\n---\ntext",
			wantTitle:    "Named",
			wantHeadings: 0,
			wantBody:     "text",
		},
		{
			name:         "first h1",
			content:      "intro\n## Sub\n# Main\n",
			wantTitle:    "Main",
			wantHeadings: 2,
			wantBody:     "intro\n## Sub\n# Main\n",
		},
		{
			name:         "first heading of any level",
			content:      "### Deep\ntext",
			wantTitle:    "Deep",
			wantHeadings: 1,
			wantBody:     "### Deep\ntext",
		},
		{
			name:         "headings inside code fences ignored",
			content:      "```\n# not a heading\n```\n## Real",
			wantTitle:    "Real",
			wantHeadings: 1,
			wantBody:     "```\n# not a heading\n```\n## Real",
		},
		{
			name:         "crlf line endings",
			content:      "---\r\ntitle: Windows\r\n---\r\nbody",
			wantTitle:    "Windows",
			wantHeadings: 0,
			wantBody:     "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseMarkdown(tt.content)
			if err != nil {
				t.Fatalf("ParseMarkdown() error = %v", err)
			}
			if doc.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", doc.Title, tt.wantTitle)
			}
			if len(doc.Headings) != tt.wantHeadings {
				t.Errorf("len(Headings) = %d, want %d", len(doc.Headings), tt.wantHeadings)
			}
			if doc.Content != tt.wantBody {
				t.Errorf("Content = %q, want %q", doc.Content, tt.wantBody)
			}
		})
	}
}

func TestParseMarkdown_InvalidFrontmatter(t *testing.T) {
	_, err := ParseMarkdown("---\ntitle: [unclosed\n---\nbody")
	if err == nil {
		t.Fatal("expected error for malformed frontmatter")
	}
	if !strings.Contains(err.Error(), "parse frontmatter") {
		t.Errorf("error = %v, want parse frontmatter", err)
	}
}

func TestGetFrontmatterStringSlice(t *testing.T) {
	doc, err := ParseMarkdown("---\nlabels: [a, b]\ntags: single\nempty: \"\"\n---\n")
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}

	tests := []struct {
		key  string
		want []string
	}{
		{"labels", []string{"a", "b"}},
		{"tags", []string{"single"}},
		{"empty", nil},
		{"missing", nil},
	}
	for _, tt := range tests {
		if got := doc.GetFrontmatterStringSlice(tt.key); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("GetFrontmatterStringSlice(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestExtractWikiLinksAndMentions(t *testing.T) {
	content := "See [[Go Concurrency]] and [[ Go Concurrency ]] with @Alice and @alice, cc @bob"

	if got, want := ExtractWikiLinks(content), []string{"Go Concurrency"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractWikiLinks() = %v, want %v", got, want)
	}
	if got, want := ExtractMentions(content), []string{"alice", "bob"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractMentions() = %v, want %v", got, want)
	}
}

func TestPreparePasted(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		extra      []string
		wantTitle  string
		wantLabels []string
		wantErr    bool
	}{
		{
			name:       "frontmatter labels and tags merged",
			content:    "---\ntitle: Meeting\nlabels: [Work, notes]\ntags: [work]\n---\nAgenda",
			extra:      []string{"session", " "},
			wantTitle:  "Meeting",
			wantLabels: []string{"notes", "session", "work"},
		},
		{
			name:      "untitled text uses first line",
			content:   "\n\n  quick thought about retries  \nmore",
			wantTitle: "quick thought about retries",
		},
		{
			name:      "long first line is truncated",
			content:   strings.Repeat("x", 80),
			wantTitle: strings.Repeat("x", maxUntitledTitle) + "…",
		},
		{
			name:    "empty input",
			content: "  \n\t",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PreparePasted(tt.content, tt.extra)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PreparePasted() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", got.Title, tt.wantTitle)
			}
			if len(got.Labels) != len(tt.wantLabels) || (len(tt.wantLabels) > 0 && !reflect.DeepEqual(got.Labels, tt.wantLabels)) {
				t.Errorf("Labels = %v, want %v", got.Labels, tt.wantLabels)
			}
		})
	}
}

func TestPreparePasted_Metadata(t *testing.T) {
	got, err := PreparePasted("---\nsource: slack\n---\n# Title\n## Part\nping @ops about [[Runbook]]", nil)
	if err != nil {
		t.Fatalf("PreparePasted() error = %v", err)
	}

	if got.Metadata["headings"] != 2 {
		t.Errorf("headings = %v, want 2", got.Metadata["headings"])
	}
	if got.Metadata["source"] != "slack" {
		t.Errorf("source = %v, want slack", got.Metadata["source"])
	}
	if !reflect.DeepEqual(got.Metadata["links"], []string{"Runbook"}) {
		t.Errorf("links = %v", got.Metadata["links"])
	}
	if !reflect.DeepEqual(got.Metadata["mentions"], []string{"ops"}) {
		t.Errorf("mentions = %v", got.Metadata["mentions"])
	}
}
