package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

const (
	maxSearchMatches  = 300
	maxSearchFileSize = 1 << 20 // skip files over 1 MiB, they are rarely source
)

func (tb *Table) runSearchFiles(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	re, err := regexp.Compile(params[parser.ParamRegex])
	if err != nil {
		return "", fmt.Errorf("invalid regex: %w", err)
	}
	pattern := strings.TrimSpace(params[parser.ParamFilePattern])
	if pattern != "" {
		if !doublestar.ValidatePattern(pattern) {
			return "", fmt.Errorf("invalid file_pattern %q", pattern)
		}
	}
	root, err := resolvePath(task, params[parser.ParamPath])
	if err != nil {
		return "", err
	}

	var matches []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if noiseDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if pattern != "" {
			ok, _ := doublestar.Match(pattern, rel)
			if !ok {
				return nil
			}
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > maxSearchFileSize {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) > maxSearchMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 {
		return "No matches found.", nil
	}
	return fmt.Sprintf("Found %d matching lines:\n%s",
		len(matches), strings.Join(truncateLines(matches, maxSearchMatches), "\n")), nil
}

// Top-level definition patterns per source language. Intentionally shallow:
// the output is an orientation map for the model, not a parse.
var definitionPatterns = map[string]*regexp.Regexp{
	".go": regexp.MustCompile(`^(?:func|type)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`),
	".py": regexp.MustCompile(`^(?:def|class)\s+([A-Za-z_][A-Za-z0-9_]*)`),
	".js": regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?(?:function|class)\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	".ts": regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?(?:async\s+)?(?:function|class|interface|enum)\s+([A-Za-z_$][A-Za-z0-9_$]*)`),
	".rs": regexp.MustCompile(`^(?:pub\s+)?(?:fn|struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`),
}

func (tb *Table) runListDefinitions(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	root, err := resolvePath(task, params[parser.ParamPath])
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	count := 0
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if noiseDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(d.Name())
		re, ok := definitionPatterns[ext]
		if !ok {
			if ext == ".tsx" {
				re, ok = definitionPatterns[".ts"], true
			} else if ext == ".jsx" {
				re, ok = definitionPatterns[".js"], true
			}
		}
		if !ok {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || len(data) > maxSearchFileSize {
			return nil
		}
		var defs []string
		for _, line := range strings.Split(string(data), "\n") {
			if m := re.FindStringSubmatch(line); m != nil {
				defs = append(defs, m[1])
			}
		}
		if len(defs) == 0 {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		fmt.Fprintf(&sb, "%s:\n  %s\n", rel, strings.Join(defs, "\n  "))
		count += len(defs)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan definitions: %w", err)
	}
	if count == 0 {
		return "No source definitions found.", nil
	}
	return sb.String(), nil
}
