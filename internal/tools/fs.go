package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

// noiseDirs are skipped by recursive listings and searches.
var noiseDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
}

// resolvePath joins a model-supplied relative path onto the task workspace
// and refuses anything that resolves outside it.
func resolvePath(task *engine.Task, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" || rel == "." {
		rel = "."
	}
	root := filepath.Clean(task.WorkspaceDir())
	if root == "" || root == "." {
		return "", errors.New("task has no workspace directory")
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside the workspace", rel)
	}
	return abs, nil
}

func (tb *Table) runReadFile(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	abs, err := resolvePath(task, params[parser.ParamPath])
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", params[parser.ParamPath], err)
	}
	content := string(data)

	if spec := strings.TrimSpace(params[parser.ParamLines]); spec != "" {
		content, err = selectLines(content, spec)
		if err != nil {
			return "", err
		}
	}
	return content, nil
}

// selectLines extracts a 1-based inclusive "start-end" (or single "n") range.
func selectLines(content, spec string) (string, error) {
	start, end := spec, spec
	if i := strings.IndexByte(spec, '-'); i >= 0 {
		start, end = spec[:i], spec[i+1:]
	}
	from, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return "", fmt.Errorf("invalid lines range %q", spec)
	}
	to, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return "", fmt.Errorf("invalid lines range %q", spec)
	}
	lines := strings.Split(content, "\n")
	if from < 1 {
		from = 1
	}
	if to > len(lines) {
		to = len(lines)
	}
	if from > to {
		return "", fmt.Errorf("lines range %q is empty for a %d-line file", spec, len(lines))
	}
	return strings.Join(lines[from-1:to], "\n"), nil
}

func (tb *Table) runWriteToFile(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	rel := params[parser.ParamPath]
	abs, err := resolvePath(task, rel)
	if err != nil {
		return "", err
	}
	_, statErr := os.Stat(abs)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(params[parser.ParamContent]), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	if existed {
		return fmt.Sprintf("Saved changes to %s.", rel), nil
	}
	return fmt.Sprintf("Created new file %s.", rel), nil
}

const (
	searchMarker  = "<<<<<<< SEARCH"
	divideMarker  = "======="
	replaceMarker = ">>>>>>> REPLACE"
)

// runSearchReplace applies one exact-match block edit. The content parameter
// carries the block in conflict-marker form:
//
//	<<<<<<< SEARCH
//	old lines
//	=======
//	new lines
//	>>>>>>> REPLACE
func (tb *Table) runSearchReplace(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	rel := params[parser.ParamPath]
	abs, err := resolvePath(task, rel)
	if err != nil {
		return "", err
	}
	search, replace, err := parseSearchReplace(params[parser.ParamContent])
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	content := string(data)
	if !strings.Contains(content, search) {
		return "", fmt.Errorf("search block not found in %s; the file may have changed since it was read", rel)
	}
	updated := strings.Replace(content, search, replace, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return fmt.Sprintf("Applied 1 replacement to %s.", rel), nil
}

func parseSearchReplace(block string) (search, replace string, err error) {
	lines := strings.Split(block, "\n")
	var cur *[]string
	var searchLines, replaceLines []string
	var sawSearch, sawDivide, sawReplace bool
	for _, line := range lines {
		switch strings.TrimRight(line, " \t") {
		case searchMarker:
			sawSearch = true
			cur = &searchLines
			continue
		case divideMarker:
			if sawSearch && !sawDivide {
				sawDivide = true
				cur = &replaceLines
				continue
			}
		case replaceMarker:
			if sawDivide {
				sawReplace = true
				cur = nil
				continue
			}
		}
		if cur != nil {
			*cur = append(*cur, line)
		}
	}
	if !sawSearch || !sawDivide || !sawReplace {
		return "", "", errors.New("content must contain a SEARCH/REPLACE block with <<<<<<< SEARCH, ======= and >>>>>>> REPLACE markers")
	}
	return strings.Join(searchLines, "\n"), strings.Join(replaceLines, "\n"), nil
}

func (tb *Table) runInsertCodeBlock(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	rel := params[parser.ParamPath]
	abs, err := resolvePath(task, rel)
	if err != nil {
		return "", err
	}
	pos, err := strconv.Atoi(strings.TrimSpace(params[parser.ParamPosition]))
	if err != nil || pos < 1 {
		return "", fmt.Errorf("invalid position %q: must be a 1-based line number", params[parser.ParamPosition])
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	lines := strings.Split(string(data), "\n")
	if pos > len(lines)+1 {
		return "", fmt.Errorf("position %d is beyond the end of %s (%d lines)", pos, rel, len(lines))
	}
	inserted := strings.Split(params[parser.ParamContent], "\n")
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:pos-1]...)
	out = append(out, inserted...)
	out = append(out, lines[pos-1:]...)
	if err := os.WriteFile(abs, []byte(strings.Join(out, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return fmt.Sprintf("Inserted %d lines into %s at line %d.", len(inserted), rel, pos), nil
}

const maxListEntries = 1000

func (tb *Table) runListFiles(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	abs, err := resolvePath(task, params[parser.ParamPath])
	if err != nil {
		return "", err
	}
	recursive := strings.EqualFold(strings.TrimSpace(params[parser.ParamRecursive]), "true")

	var entries []string
	if recursive {
		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if path == abs {
				return nil
			}
			if d.IsDir() && noiseDirs[d.Name()] {
				return filepath.SkipDir
			}
			rel, relErr := filepath.Rel(abs, path)
			if relErr != nil {
				return nil
			}
			if d.IsDir() {
				rel += "/"
			}
			entries = append(entries, rel)
			if len(entries) > maxListEntries {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("walk %s: %w", params[parser.ParamPath], err)
		}
	} else {
		dirents, err := os.ReadDir(abs)
		if err != nil {
			return "", fmt.Errorf("list %s: %w", params[parser.ParamPath], err)
		}
		for _, d := range dirents {
			name := d.Name()
			if d.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}
	if len(entries) == 0 {
		return "The directory is empty.", nil
	}
	sort.Strings(entries)
	return strings.Join(truncateLines(entries, maxListEntries), "\n"), nil
}
