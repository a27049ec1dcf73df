// Package resources serves the server's static documentation blobs over
// MCP resources/list and resources/read, addressed by ado://docs/<name>
// URIs. Resource content is loaded once from a directory; this package
// holds no ADO-specific logic.
package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Scheme is the URI scheme every resource this package serves is addressed
// under.
const Scheme = "ado://docs/"

// Resource describes one loaded document, registered for resources/list.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
}

// Provider holds every loaded document's bytes, keyed by URI.
type Provider struct {
	mu    sync.RWMutex
	docs  map[string]string
	index map[string]Resource
}

// Load reads every file directly under dir (non-recursive) into a
// Provider, deriving each resource's name from the file's base name and
// its MIME type from its extension (".md" -> text/markdown, else
// text/plain).
func Load(dir string) (*Provider, error) {
	p := &Provider{docs: map[string]string{}, index: map[string]Resource{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("resources: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("resources: read %s: %w", path, err)
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		uri := Scheme + name
		mimeType := "text/plain"
		if strings.EqualFold(filepath.Ext(entry.Name()), ".md") {
			mimeType = "text/markdown"
		}
		p.docs[uri] = string(raw)
		p.index[uri] = Resource{URI: uri, Name: name, MIMEType: mimeType}
	}
	return p, nil
}

// List returns every loaded resource's metadata, sorted by URI.
func (p *Provider) List() []Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Resource, 0, len(p.index))
	for _, r := range p.index {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Read returns the body and MIME type for uri, or an error if unknown.
func (p *Provider) Read(uri string) (body, mimeType string, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	body, ok := p.docs[uri]
	if !ok {
		return "", "", fmt.Errorf("resources: unknown resource %q", uri)
	}
	return body, p.index[uri].MIMEType, nil
}
