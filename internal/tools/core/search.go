package core

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"coco/internal/logging"
	"coco/internal/tools"
)

// maxSearchMatches bounds search output so one query cannot dominate the
// context window.
const maxSearchMatches = 50

// SearchCodeTool greps text files under a directory for a regex pattern.
func SearchCodeTool(cfg Config) *tools.Tool {
	return &tools.Tool{
		Name:        "search_code",
		Description: "Search files under a directory for a regex pattern",
		Category:    tools.CategoryCore,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Regular expression to search for"},
				"path":    {Type: "string", Description: "Directory to search (default workspace root)"},
				"glob":    {Type: "string", Description: "Filename glob filter, e.g. *.go"},
			},
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			pattern := argString(input, "pattern")
			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("%w: bad pattern: %v", tools.ErrInvalidInput, err)
			}

			root := cfg.resolve(argString(input, "path"))
			if root == "" {
				root = cfg.Workspace
			}
			glob := argString(input, "glob")

			var matches []string
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				name := d.Name()
				if d.IsDir() {
					if strings.HasPrefix(name, ".") && path != root {
						return filepath.SkipDir
					}
					return nil
				}
				if glob != "" {
					if ok, _ := filepath.Match(glob, name); !ok {
						return nil
					}
				}
				matches = append(matches, grepFile(path, re, maxSearchMatches-len(matches))...)
				if len(matches) >= maxSearchMatches {
					return fs.SkipAll
				}
				return nil
			})
			if err != nil && err != fs.SkipAll {
				return "", fmt.Errorf("%w: %v", tools.ErrInternal, err)
			}

			logging.Tools("search_code: %q under %s (%d matches)", pattern, root, len(matches))
			if len(matches) == 0 {
				return "no matches", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

func grepFile(path string, re *regexp.Regexp, budget int) []string {
	if budget <= 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			out = append(out, fmt.Sprintf("%s:%d: %s", path, lineNo, strings.TrimSpace(line)))
			if len(out) >= budget {
				break
			}
		}
	}
	return out
}
