package data

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mohitkumawat/realpm/internal/biz/repo"
)

// contextDoc is a markdown file with "## Title" sections. Edits rewrite the
// whole file under a mutex; the document is small by design.
type contextDoc struct {
	mu   sync.Mutex
	path string
}

// NewContextDoc creates a context-document repository backed by a markdown file
func NewContextDoc(path string) repo.ContextRepo {
	return &contextDoc{path: path}
}

// Read returns the full document. A missing file reads as empty.
func (c *contextDoc) Read() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

func (c *contextDoc) read() (string, error) {
	b, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read context document: %w", err)
	}
	return string(b), nil
}

// ReplaceSection swaps the body under the exact heading "## <title>" for
// content. The heading itself is preserved.
func (c *contextDoc) ReplaceSection(title, content string) error {
	return c.editSection(title, func(string) string {
		return strings.TrimRight(content, "\n")
	})
}

// AppendSection adds content to the end of the section body.
func (c *contextDoc) AppendSection(title, content string) error {
	return c.editSection(title, func(body string) string {
		body = strings.TrimRight(body, "\n")
		add := strings.TrimRight(content, "\n")
		if body == "" {
			return add
		}
		return body + "\n" + add
	})
}

func (c *contextDoc) editSection(title string, edit func(body string) string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.read()
	if err != nil {
		return err
	}

	heading := "## " + title
	lines := strings.Split(doc, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimRight(line, " \t") == heading {
			start = i
			break
		}
	}
	if start == -1 {
		return fmt.Errorf("%w: %q", repo.ErrSectionNotFound, title)
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}

	body := strings.Join(lines[start+1:end], "\n")
	newBody := edit(body)

	var out []string
	out = append(out, lines[:start+1]...)
	if newBody != "" {
		out = append(out, strings.Split(newBody, "\n")...)
	}
	// Blank separator before the next section heading.
	if end < len(lines) {
		out = append(out, "")
	}
	out = append(out, lines[end:]...)

	updated := strings.Join(out, "\n")
	if !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	if err := os.WriteFile(c.path, []byte(updated), 0644); err != nil {
		return fmt.Errorf("failed to write context document: %w", err)
	}
	return nil
}
