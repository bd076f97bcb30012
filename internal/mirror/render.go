package mirror

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Document is the mirrored view of a post.
type Document struct {
	Title     string   `json:"title"`
	Date      string   `json:"date"`
	Summary   string   `json:"summary"`
	Slug      string   `json:"slug"`
	Tags      []string `json:"tags"`
	Published bool     `json:"published"`
	Body      string   `json:"body"`
}

var quoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
	"\t", `\t`,
)

func quote(s string) string {
	return `"` + quoteEscaper.Replace(s) + `"`
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// renderDate leaves calendar dates bare and quotes anything else so that
// rows stored before dates were validated still yield parseable front matter.
func renderDate(date string) string {
	date = singleLine(date)
	if _, err := time.Parse("2006-01-02", date); err == nil {
		return date
	}
	return quote(date)
}

// RenderText produces the front-matter document written to <slug>.mdx.
func RenderText(doc Document) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: " + quote(doc.Title) + "\n")
	b.WriteString("date: " + renderDate(doc.Date) + "\n")
	if summary := strings.TrimSpace(doc.Summary); summary != "" {
		b.WriteString("summary: " + quote(summary) + "\n")
	}
	if len(doc.Tags) > 0 {
		b.WriteString("tags:\n")
		for _, tag := range doc.Tags {
			b.WriteString("  - " + quote(tag) + "\n")
		}
	}
	b.WriteString("---\n\n")

	body := doc.Body
	if strings.TrimSpace(body) == "" {
		body = "# " + singleLine(doc.Title) + "\n"
		if summary := strings.TrimSpace(doc.Summary); summary != "" {
			body += "\n" + summary + "\n"
		}
	}
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// RenderJSON produces the sidecar written to <slug>.json.
func RenderJSON(doc Document) ([]byte, error) {
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
