// Package principles manages the markdown documents that describe the rules a
// meeting is held to. Each document is one file in the catalog directory; its
// file name without ".md" is the principle ID.
package principles

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Principle struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	FilePath string   `json:"filePath,omitempty"`
	Content  string   `json:"content"`
	Summary  string   `json:"summary,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// FrontMatter is the optional metadata block at the top of a document,
// either YAML between "---" fences or TOML between "+++" fences.
type FrontMatter struct {
	Name    string   `yaml:"name,omitempty" toml:"name,omitempty"`
	Summary string   `yaml:"summary,omitempty" toml:"summary,omitempty"`
	Tags    []string `yaml:"tags,omitempty" toml:"tags,omitempty"`
}

type fenceFormat int

const (
	noFence fenceFormat = iota
	yamlFence
	tomlFence
)

// document is a parsed file: front matter, its format, and the markdown body.
type document struct {
	meta   FrontMatter
	format fenceFormat
	body   string
}

func splitFrontMatter(content string) (fenceFormat, string, string, bool) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	for _, f := range []struct {
		format fenceFormat
		fence  string
	}{{yamlFence, "---"}, {tomlFence, "+++"}} {
		if !strings.HasPrefix(normalized, f.fence+"\n") {
			continue
		}
		rest := normalized[len(f.fence)+1:]
		if strings.HasPrefix(rest, f.fence+"\n") || rest == f.fence {
			return f.format, "", strings.TrimPrefix(strings.TrimPrefix(rest, f.fence), "\n"), true
		}
		end := strings.Index(rest, "\n"+f.fence)
		if end < 0 {
			return noFence, "", normalized, false
		}
		raw := rest[:end]
		body := rest[end+1+len(f.fence):]
		body = strings.TrimPrefix(body, "\n")
		return f.format, raw, body, true
	}
	return noFence, "", normalized, true
}

func parseDocument(content string) (document, error) {
	format, raw, body, ok := splitFrontMatter(content)
	if !ok {
		return document{}, fmt.Errorf("unterminated front matter")
	}
	doc := document{format: format, body: body}
	switch format {
	case yamlFence:
		if err := yaml.Unmarshal([]byte(raw), &doc.meta); err != nil {
			return document{}, fmt.Errorf("yaml front matter: %w", err)
		}
	case tomlFence:
		if err := toml.Unmarshal([]byte(raw), &doc.meta); err != nil {
			return document{}, fmt.Errorf("toml front matter: %w", err)
		}
	}
	return doc, nil
}

// render writes the document back in its original front matter format.
func (d document) render() (string, error) {
	switch d.format {
	case yamlFence:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d.meta); err != nil {
			return "", err
		}
		_ = enc.Close()
		return "---\n" + buf.String() + "---\n" + d.body, nil
	case tomlFence:
		raw, err := toml.Marshal(d.meta)
		if err != nil {
			return "", err
		}
		return "+++\n" + string(raw) + "+++\n" + d.body, nil
	default:
		return d.body, nil
	}
}

// heading returns the text of the first "# " line.
func heading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// setHeading replaces a leading "# " heading or prepends one.
func setHeading(body, name string) string {
	lines := strings.Split(body, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "# ") {
		lines[0] = "# " + name
		return strings.Join(lines, "\n")
	}
	return "# " + name + "\n\n" + body
}

func titleFromID(id string) string {
	words := strings.Fields(strings.ReplaceAll(id, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Parse builds a Principle from a document's raw content.
func Parse(id, content string) (Principle, error) {
	doc, err := parseDocument(content)
	if err != nil {
		return Principle{}, fmt.Errorf("principle %s: %w", id, err)
	}
	name := strings.TrimSpace(doc.meta.Name)
	if name == "" {
		name = heading(doc.body)
	}
	if name == "" {
		name = titleFromID(id)
	}
	return Principle{
		ID:      id,
		Name:    name,
		Content: content,
		Summary: strings.TrimSpace(doc.meta.Summary),
		Tags:    doc.meta.Tags,
	}, nil
}
