package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeus-ia/zeus/internal/model"
)

// artifactTimeFormat stamps deliverable file names, e.g. 20260302T080000Z.
const artifactTimeFormat = "20060102T150405Z"

// output writes deliverables and automation logs. Files are grouped by
// lowercase agent name.
type output struct {
	dir    string
	logDir string
	now    func() time.Time
}

func (o *output) stamp() string {
	return o.now().UTC().Format(artifactTimeFormat)
}

// artifactID names the files produced for one activity run.
func (o *output) artifactID(a model.Activity) string {
	return fmt.Sprintf("%d_%s_%s", a.ID, a.ActionType, o.stamp())
}

func (o *output) writeJSON(agent, id string, v any) (string, error) {
	data, err := encodeJSON(v)
	if err != nil {
		return "", err
	}
	return writeFile(filepath.Join(o.dir, strings.ToLower(agent)), id+".json", data)
}

func (o *output) writeMarkdown(agent, id, content string) (string, error) {
	return writeFile(filepath.Join(o.dir, strings.ToLower(agent)), id+".md", []byte(content))
}

func (o *output) writeLog(agent, id string, v any) (string, error) {
	data, err := encodeJSON(v)
	if err != nil {
		return "", err
	}
	return writeFile(filepath.Join(o.logDir, strings.ToLower(agent)), id+".json", data)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// writeFile creates dir as needed and returns the absolute path written.
func writeFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// section is one heading of a Markdown summary. Text and Items may both be
// set; Fields render as bold key/value bullets.
type section struct {
	Heading string
	Text    string
	Items   []string
	Fields  [][2]string
}

func renderMarkdown(title string, sections []section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n", s.Heading)
		if s.Text != "" {
			b.WriteString(s.Text + "\n")
		}
		for _, item := range s.Items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		for _, f := range s.Fields {
			fmt.Fprintf(&b, "- **%s:** %s\n", f[0], f[1])
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()) + "\n"
}
