package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxSnapshotEntries = 200

var snapshotNoiseDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
}

// Environment renders the workspace snapshot appended to every outgoing user
// message. It implements engine.Environment.
type Environment struct {
	workspaceDir string
}

func NewEnvironment(workspaceDir string) *Environment {
	return &Environment{workspaceDir: workspaceDir}
}

func (e *Environment) Snapshot(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("<environment_details>\n")
	fmt.Fprintf(&sb, "# Working directory: %s\n", e.workspaceDir)
	sb.WriteString("# Files:\n")

	var entries []string
	truncated := false
	_ = filepath.WalkDir(e.workspaceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == e.workspaceDir {
			return nil
		}
		if d.IsDir() && snapshotNoiseDirs[d.Name()] {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(e.workspaceDir, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		if len(entries) >= maxSnapshotEntries {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	sort.Strings(entries)
	for _, entry := range entries {
		sb.WriteString(entry)
		sb.WriteString("\n")
	}
	if len(entries) == 0 {
		sb.WriteString("(empty)\n")
	}
	if truncated {
		sb.WriteString("(listing truncated)\n")
	}
	sb.WriteString("</environment_details>")
	return sb.String()
}
