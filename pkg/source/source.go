// Package source serves the text of the modules a program was assembled
// from, for listings and source-level stack traces.
package source

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const defaultCacheSize = 64

// Line is a single numbered source line.
type Line struct {
	N    int
	Text string
}

// Manager resolves file names to source lines. Sources embedded in the
// program take precedence, anything else is read from disk and kept in an
// LRU cache.
type Manager struct {
	mu       sync.Mutex
	embedded map[string][]string
	cache    *lru.Cache
	readFile func(string) ([]byte, error)
}

// NewManager returns a manager whose disk cache holds at most size files.
func NewManager(size int) *Manager {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, _ := lru.New(size)
	return &Manager{
		embedded: map[string][]string{},
		cache:    cache,
		readFile: ioutil.ReadFile,
	}
}

// SetSources replaces the embedded sources, usually with vm.Program.Sources.
func (m *Manager) SetSources(sources map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedded = make(map[string][]string, len(sources))
	for path, src := range sources {
		m.embedded[path] = splitLines(src)
	}
	m.cache.Purge()
}

// Files returns the paths of the embedded sources.
func (m *Manager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make([]string, 0, len(m.embedded))
	for path := range m.embedded {
		r = append(r, path)
	}
	return r
}

// Lines returns every line of file.
func (m *Manager) Lines(file string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lines, ok := m.embedded[file]; ok {
		return lines, nil
	}
	for path, lines := range m.embedded {
		if filepath.Base(path) == file || strings.HasSuffix(path, "/"+file) {
			return lines, nil
		}
	}
	if v, ok := m.cache.Get(file); ok {
		return v.([]string), nil
	}
	buf, err := m.readFile(file)
	if err != nil {
		return nil, err
	}
	lines := splitLines(string(buf))
	m.cache.Add(file, lines)
	return lines, nil
}

// Line returns line n (1-based) of file.
func (m *Manager) Line(file string, n int) (string, error) {
	lines, err := m.Lines(file)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(lines) {
		return "", fmt.Errorf("%s has %d lines, line %d is out of range", file, len(lines), n)
	}
	return lines[n-1], nil
}

// Around returns the lines of file within count lines of line n.
func (m *Manager) Around(file string, n, count int) ([]Line, error) {
	lines, err := m.Lines(file)
	if err != nil {
		return nil, err
	}
	start, end := n-count, n+count
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil, fmt.Errorf("%s has %d lines, line %d is out of range", file, len(lines), n)
	}
	r := make([]Line, 0, end-start+1)
	for i := start; i <= end; i++ {
		r = append(r, Line{N: i, Text: lines[i-1]})
	}
	return r, nil
}

func splitLines(src string) []string {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	lines := strings.Split(src, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
