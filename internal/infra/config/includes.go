package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includeLoader overlays included YAML files onto a Config. It remembers every
// file it has read to reject include cycles.
type includeLoader struct {
	cfg     *Config
	visited map[string]bool
}

// processIncludes merges the files named by cfg.Includes into cfg. baseDir is
// the directory of the file that declared them. Included files may include
// further files up to maxIncludeDepth levels.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if visited == nil {
		visited = make(map[string]bool)
	}
	l := &includeLoader{cfg: cfg, visited: visited}
	return l.load(cfg.Includes, baseDir, depth)
}

func (l *includeLoader) load(patterns []string, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	for _, pattern := range patterns {
		paths, err := resolveIncludePaths(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return fmt.Errorf("config includes: abs path %q: %w", p, err)
			}
			if l.visited[abs] {
				return fmt.Errorf("config includes: circular include detected for %q", abs)
			}
			l.visited[abs] = true

			if err := l.merge(abs, depth+1); err != nil {
				return err
			}
		}
	}

	l.cfg.Includes = nil
	return nil
}

// merge overlays one file onto the config and follows its own includes.
func (l *includeLoader) merge(path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}

	// Only the includes declared by this file must be followed next.
	l.cfg.Includes = nil
	if err := yaml.Unmarshal(data, l.cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	if nested := l.cfg.Includes; len(nested) > 0 {
		return l.load(nested, filepath.Dir(path), depth)
	}
	return nil
}

// resolveIncludePaths expands pattern (which may be a glob) relative to
// baseDir. Relative patterns must stay inside baseDir.
func resolveIncludePaths(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	if rel, err := filepath.Rel(baseDir, pattern); err == nil && strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		// A literal path that does not exist is reported by merge.
		return []string{pattern}, nil
	}
	return matches, nil
}
