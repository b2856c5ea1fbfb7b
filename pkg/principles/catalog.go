package principles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/meetingmod/moderator/pkg/core"
	"github.com/meetingmod/moderator/pkg/core/meeting"
)

const (
	DefaultDir    = "principles"
	ext           = ".md"
	watchDebounce = 100 * time.Millisecond
)

var (
	nonSlug    = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
	validID    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Catalog is a directory of principle documents. Listings are cached until a
// write through the catalog or a change seen by Watch.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	cached []Principle
	valid  bool
}

func NewCatalog(dir string, logger *slog.Logger) (*Catalog, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.NewConfigurationError(fmt.Sprintf("principles dir %s: %v", dir, err))
	}
	return &Catalog{dir: dir, logger: logger}, nil
}

func (c *Catalog) Dir() string { return c.dir }

// Slug lowercases name, drops anything but letters, digits, spaces and
// hyphens, and joins words with hyphens.
func Slug(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "")
	return whitespace.ReplaceAllString(strings.TrimSpace(s), "-")
}

func (c *Catalog) path(id string) string {
	return filepath.Join(c.dir, id+ext)
}

func (c *Catalog) relPath(id string) string {
	return filepath.ToSlash(filepath.Join(filepath.Base(c.dir), id+ext))
}

func (c *Catalog) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.cached = nil
	c.mu.Unlock()
}

// List returns every readable document sorted by ID.
func (c *Catalog) List() ([]Principle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		return append([]Principle(nil), c.cached...), nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("list principles: %w", err)
	}
	out := make([]Principle, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		p, err := c.read(id)
		if err != nil {
			c.logger.Warn("skipping principle", "id", id, "error", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.cached = out
	c.valid = true
	return append([]Principle(nil), out...), nil
}

func (c *Catalog) read(id string) (Principle, error) {
	data, err := os.ReadFile(c.path(id))
	if err != nil {
		return Principle{}, err
	}
	p, err := Parse(id, string(data))
	if err != nil {
		return Principle{}, err
	}
	p.FilePath = c.relPath(id)
	return p, nil
}

func (c *Catalog) Get(id string) (Principle, error) {
	if !validID.MatchString(id) {
		return Principle{}, core.NewNotFoundError(fmt.Sprintf("principle %q not found", id))
	}
	p, err := c.read(id)
	if errors.Is(err, fs.ErrNotExist) {
		return Principle{}, core.NewNotFoundError(fmt.Sprintf("principle %q not found", id))
	}
	if err != nil {
		return Principle{}, fmt.Errorf("read principle %s: %w", id, err)
	}
	return p, nil
}

// Create writes a new document. The ID is the slug of name; names too short
// to slug get a custom-xxxxxx ID, and a taken slug gets a 4-hex suffix.
func (c *Catalog) Create(name, content string) (Principle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Principle{}, core.NewInvalidRequestErrorWithParam("name is required", "name")
	}
	doc, err := parseDocument(content)
	if err != nil {
		return Principle{}, core.NewInvalidRequestErrorWithParam(err.Error(), "content")
	}
	switch {
	case doc.format != noFence && strings.TrimSpace(doc.meta.Name) == "":
		doc.meta.Name = name
		if content, err = doc.render(); err != nil {
			return Principle{}, fmt.Errorf("render principle: %w", err)
		}
	case doc.format == noFence && !strings.HasPrefix(strings.TrimSpace(content), "# "):
		content = "# " + name + "\n\n" + content
	}

	id := c.newID(name)
	if err := c.writeFile(id, content, true); err != nil {
		return Principle{}, err
	}
	p, err := c.read(id)
	if err != nil {
		return Principle{}, fmt.Errorf("read principle %s: %w", id, err)
	}
	return p, nil
}

func (c *Catalog) newID(name string) string {
	id := Slug(name)
	if len(id) < 2 {
		return "custom-" + hex(6)
	}
	if _, err := os.Stat(c.path(id)); err == nil {
		return id + "-" + hex(4)
	}
	return id
}

func hex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// Update changes the content, the name, or both. A new name goes into the
// front matter when the document has one, otherwise into the first heading.
func (c *Catalog) Update(id string, name, content *string) (Principle, error) {
	current, err := c.Get(id)
	if err != nil {
		return Principle{}, err
	}
	next := current.Content
	if content != nil {
		next = *content
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			return Principle{}, core.NewInvalidRequestErrorWithParam("name must not be empty", "name")
		}
		doc, err := parseDocument(next)
		if err != nil {
			return Principle{}, core.NewInvalidRequestErrorWithParam(err.Error(), "content")
		}
		if doc.format != noFence {
			doc.meta.Name = trimmed
		} else {
			doc.body = setHeading(doc.body, trimmed)
		}
		if next, err = doc.render(); err != nil {
			return Principle{}, fmt.Errorf("render principle %s: %w", id, err)
		}
	} else if _, err := parseDocument(next); err != nil {
		return Principle{}, core.NewInvalidRequestErrorWithParam(err.Error(), "content")
	}

	if err := c.writeFile(id, next, false); err != nil {
		return Principle{}, err
	}
	return c.Get(id)
}

func (c *Catalog) Delete(id string) error {
	if _, err := c.Get(id); err != nil {
		return err
	}
	if err := os.Remove(c.path(id)); err != nil {
		return fmt.Errorf("delete principle %s: %w", id, err)
	}
	c.invalidate()
	return nil
}

func (c *Catalog) writeFile(id, content string, exclusive bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(c.path(id), flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return core.NewConflictError(fmt.Sprintf("principle %q already exists", id))
	}
	if err != nil {
		return fmt.Errorf("write principle %s: %w", id, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write principle %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write principle %s: %w", id, err)
	}
	c.invalidate()
	return nil
}

// Resolve maps principle IDs to the meeting's copy of each document.
func (c *Catalog) Resolve(ids []string) ([]meeting.Principle, error) {
	out := make([]meeting.Principle, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		p, err := c.Get(id)
		if core.IsType(err, core.ErrNotFound) {
			return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown principle %q", id), "principleIds")
		}
		if err != nil {
			return nil, err
		}
		out = append(out, meeting.Principle{ID: p.ID, Name: p.Name, Content: p.Content})
	}
	return out, nil
}

// Watch invalidates the listing cache when files in the directory change and
// calls onChange once per burst of events. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("principles watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ext {
				continue
			}
			debounce.Reset(watchDebounce)
		case <-debounce.C:
			c.invalidate()
			c.logger.Debug("principles changed", "dir", c.dir)
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("principles watcher error", "error", err)
		}
	}
}
