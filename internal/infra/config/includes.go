package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includer overlays include files onto a Config. chain is the stack of
// files currently being merged; a file may be included twice from
// different branches but never from inside itself.
type includer struct {
	chain []string
}

func newIncluder(root string) *includer {
	return &includer{chain: []string{root}}
}

// apply merges every file named by cfg.Includes, in order, clearing the
// list as it goes. Globs match in lexical order.
func (in *includer) apply(cfg *Config, dir string) error {
	if len(in.chain) > maxIncludeDepth {
		return fmt.Errorf("config includes: nested deeper than %d files", maxIncludeDepth)
	}
	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		files, err := expandInclude(dir, pattern)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := in.merge(cfg, file); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *includer) merge(cfg *Config, file string) error {
	for _, open := range in.chain {
		if open == file {
			trail := append(append([]string{}, in.chain...), file)
			return fmt.Errorf("config includes: circular include %s", strings.Join(trail, " -> "))
		}
	}
	if err := validatePermissions(file); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %s: %w", file, err)
	}
	if len(cfg.Includes) == 0 {
		return nil
	}

	in.chain = append(in.chain, file)
	defer func() { in.chain = in.chain[:len(in.chain)-1] }()
	return in.apply(cfg, filepath.Dir(file))
}

// expandInclude resolves pattern against dir into absolute file paths.
// A pattern without glob metacharacters names exactly one file, missing
// or not, so that a typo surfaces as a read error.
func expandInclude(dir, pattern string) ([]string, error) {
	target := pattern
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	target, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("config includes: %w", err)
	}
	if rel, err := filepath.Rel(dir, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("config includes: %q escapes %s", pattern, dir)
	}

	if !strings.ContainsAny(target, "*?[") {
		return []string{target}, nil
	}
	files, err := filepath.Glob(target)
	if err != nil {
		return nil, fmt.Errorf("config includes: bad pattern %q: %w", pattern, err)
	}
	return files, nil
}
