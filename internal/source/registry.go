package source

import (
	"fmt"
	"os"
	"sort"

	"harvester/internal/logger"

	"gopkg.in/yaml.v3"
)

// Registry maps source names to extraction modules. It is built once at
// startup; the engine resolves requested names against it on every run and
// skips names that were never registered.
type Registry struct {
	log     *logger.Logger
	modules map[string]Module
}

func NewRegistry() *Registry {
	return &Registry{
		log:     logger.New("SourceRegistry"),
		modules: make(map[string]Module),
	}
}

// Register adds a module, replacing any previous one with the same name.
func (r *Registry) Register(m Module) {
	r.modules[m.Source()] = m
	r.log.LogDebugf("Registered source %q", m.Source())
}

// sourcesFile is the YAML shape of a source definitions file.
type sourcesFile struct {
	Sources []BoardConfig `yaml:"sources"`
}

// LoadFile reads board definitions from a YAML file and registers an
// HTML-board module per entry.
func (r *Registry) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sources file: %w", err)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse sources file %s: %w", path, err)
	}
	for _, cfg := range f.Sources {
		board, err := NewHTMLBoard(cfg)
		if err != nil {
			return fmt.Errorf("source %q: %w", cfg.Name, err)
		}
		r.Register(board)
	}
	r.log.LogInfof("Loaded %d source definitions from %s", len(f.Sources), path)
	return nil
}

// Resolve maps requested names onto registered modules, preserving request
// order. Unknown names come back separately so the caller can log and skip
// them; they are never fatal.
func (r *Registry) Resolve(names []string) (found []Module, unknown []string) {
	for _, name := range names {
		if m, ok := r.modules[name]; ok {
			found = append(found, m)
		} else {
			unknown = append(unknown, name)
		}
	}
	return found, unknown
}

// Names lists the registered source names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
