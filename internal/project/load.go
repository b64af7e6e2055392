package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"uigen/internal/catalog"
)

const (
	RootConfigFile  = "uigen.yaml"
	CapabilitiesDir = "capabilities"
)

// Load reads uigen.yaml and capabilities/*.yaml from workspace. A missing
// uigen.yaml falls back to DefaultRootConfig.
func Load(workspace string) (*Project, error) {
	root := DefaultRootConfig()
	rootPath := filepath.Join(workspace, RootConfigFile)
	b, err := os.ReadFile(rootPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", rootPath, err)
	default:
		if err := yaml.Unmarshal(b, &root); err != nil {
			return nil, fmt.Errorf("parse %s: %w", rootPath, err)
		}
	}
	if root.Version == 0 {
		root.Version = 1
	}

	capDir := filepath.Join(workspace, CapabilitiesDir)
	caps, capFiles, err := loadDir[catalog.CapabilityTemplate](capDir)
	if err != nil {
		return nil, err
	}
	for i := range caps {
		if caps[i].Snippet != "" || caps[i].SnippetFile == "" {
			continue
		}
		snippetPath := caps[i].SnippetFile
		if !filepath.IsAbs(snippetPath) {
			snippetPath = filepath.Join(capDir, snippetPath)
		}
		sb, err := os.ReadFile(snippetPath)
		if err != nil {
			return nil, fmt.Errorf("capability %q: read snippet: %w", caps[i].ID, err)
		}
		caps[i].Snippet = strings.TrimRight(string(sb), "\n")
	}

	return &Project{
		Root:            root,
		Capabilities:    caps,
		CapabilityFiles: capFiles,
	}, nil
}

func loadDir[T any](dir string) ([]T, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, map[string]string{}, nil
		}
		return nil, nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]T, 0, len(entries))
	files := map[string]string{}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		var item T
		if err := yaml.Unmarshal(b, &item); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", path, err)
		}
		items = append(items, item)
		if named, ok := any(item).(interface{ GetName() string }); ok {
			files[named.GetName()] = path
		}
	}
	return items, files, nil
}
