package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"handscribe/internal/common/fsutil"
	"handscribe/pkg/types"
)

// GGUFScanner finds GGUF weight files in the download cache. The cache holds
// one directory per repository ("org--name") plus loose files.
type GGUFScanner struct{}

// NewGGUFScanner returns a scanner.
func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

var precisionRe = regexp.MustCompile(`(?i)[-_.](bf16|f16|f32|q[0-9]+(?:_[0-9a-z]+)*)$`)

// Scan lists *.gguf files in dir and its repository directories, sorted by
// path. Incomplete downloads are skipped.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if !e.IsDir() {
			if m, ok := describe(abs, e.Name(), ""); ok {
				models = append(models, m)
			}
			continue
		}
		sub, err := os.ReadDir(filepath.Join(abs, e.Name()))
		if err != nil {
			continue
		}
		repo := strings.ReplaceAll(e.Name(), "--", "/")
		for _, f := range sub {
			if f.IsDir() {
				continue
			}
			if m, ok := describe(filepath.Join(abs, e.Name()), f.Name(), repo); ok {
				models = append(models, m)
			}
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Path < models[j].Path })
	return models, nil
}

func describe(dir, name, repo string) (types.Model, bool) {
	if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
		return types.Model{}, false
	}
	p := filepath.Join(dir, name)
	size, ok := fsutil.RegularFile(p)
	if !ok {
		return types.Model{}, false
	}
	id := name[:len(name)-len(".gguf")]
	m := types.Model{ID: id, Path: p, Repo: repo, Role: "model", SizeBytes: size}
	if strings.HasPrefix(strings.ToLower(id), "mmproj") {
		m.Role = "projector"
	}
	if sm := precisionRe.FindStringSubmatch(id); sm != nil {
		m.Precision = strings.ToLower(sm[1])
	}
	return m, true
}

// LoadDir scans dir with a GGUFScanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}
