// Package analysis provides the local collaborators that feed a run: a
// codebase analyzer producing a plain-text repository summary and a document
// parser producing plain text from a requirements document.
package analysis

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultInclude      = "**/*"
	DefaultMaxFileBytes = 1 << 20
	manifestLines       = 40
	readmeLines         = 60
	maxTreeEntries      = 400
)

var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

var manifestFiles = []string{
	"go.mod",
	"package.json",
	"requirements.txt",
	"pyproject.toml",
	"Cargo.toml",
	"pom.xml",
	"build.gradle",
	"Gemfile",
	"composer.json",
	"Dockerfile",
	"docker-compose.yml",
}

var languages = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".kt":    "Kotlin",
	".rb":    "Ruby",
	".rs":    "Rust",
	".php":   "PHP",
	".cs":    "C#",
	".c":     "C",
	".h":     "C",
	".cpp":   "C++",
	".swift": "Swift",
	".html":  "HTML",
	".css":   "CSS",
	".scss":  "CSS",
	".sql":   "SQL",
	".sh":    "Shell",
	".yaml":  "YAML",
	".yml":   "YAML",
	".md":    "Markdown",
}

// Analyzer summarizes a local repository.
type Analyzer struct {
	Include []string
	Exclude []string
	// MaxDepth limits directory recursion: -1 means unlimited, 0 root only.
	MaxDepth     int
	MaxFileBytes int64
}

// NewAnalyzer returns an analyzer with unlimited depth and default filters.
func NewAnalyzer() *Analyzer {
	return &Analyzer{MaxDepth: -1, MaxFileBytes: DefaultMaxFileBytes}
}

// Analyze walks root and returns a deterministic text summary.
func (a *Analyzer) Analyze(ctx context.Context, root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root path: %w", err)
	}

	st, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("checking repository: %w", err)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("repository %q is not a directory", root)
	}

	files, err := a.collectFiles(ctx, absRoot)
	if err != nil {
		return "", err
	}

	files, err = a.filter(files)
	if err != nil {
		return "", err
	}

	return a.summarize(absRoot, files), nil
}

func (a *Analyzer) collectFiles(ctx context.Context, absRoot string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", p, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(absRoot, p)
		if relErr != nil {
			return fmt.Errorf("computing relative path for %s: %w", p, relErr)
		}

		if d.IsDir() {
			if rel != "." && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if a.MaxDepth >= 0 && pathDepth(rel) > a.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if a.MaxFileBytes > 0 {
			info, infoErr := d.Info()
			if infoErr != nil {
				return fmt.Errorf("stat %s: %w", p, infoErr)
			}
			if info.Size() > a.MaxFileBytes {
				return nil
			}
		}

		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking repository: %w", err)
	}
	return files, nil
}

func (a *Analyzer) filter(files []string) ([]string, error) {
	include := a.Include
	if len(include) == 0 {
		include = []string{DefaultInclude}
	}

	var result []string
	for _, f := range files {
		in, err := matchAny(include, f)
		if err != nil {
			return nil, fmt.Errorf("include filter: %w", err)
		}
		if !in {
			continue
		}
		out, err := matchAny(a.Exclude, f)
		if err != nil {
			return nil, fmt.Errorf("exclude filter: %w", err)
		}
		if out {
			continue
		}
		result = append(result, f)
	}
	slices.Sort(result)
	return result, nil
}

func matchAny(patterns []string, name string) (bool, error) {
	for _, pattern := range patterns {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (a *Analyzer) summarize(absRoot string, files []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Repository: %s\n", filepath.Base(absRoot))
	fmt.Fprintf(&b, "Files: %d\n", len(files))

	if langs := languageCounts(files); len(langs) > 0 {
		b.WriteString("\nLanguages:\n")
		for _, l := range langs {
			fmt.Fprintf(&b, "- %s: %d\n", l.name, l.count)
		}
	}

	for _, m := range manifestFiles {
		if !slices.Contains(files, m) {
			continue
		}
		fmt.Fprintf(&b, "\nManifest %s:\n", m)
		b.WriteString(headLines(filepath.Join(absRoot, m), manifestLines))
	}

	if readme := findReadme(files); readme != "" {
		fmt.Fprintf(&b, "\nREADME (%s):\n", readme)
		b.WriteString(headLines(filepath.Join(absRoot, filepath.FromSlash(readme)), readmeLines))
	}

	b.WriteString("\nTree:\n")
	for i, f := range files {
		if i == maxTreeEntries {
			fmt.Fprintf(&b, "... %d more files\n", len(files)-maxTreeEntries)
			break
		}
		b.WriteString(f)
		b.WriteByte('\n')
	}

	return b.String()
}

type languageCount struct {
	name  string
	count int
}

func languageCounts(files []string) []languageCount {
	counts := make(map[string]int)
	for _, f := range files {
		if lang, ok := languages[strings.ToLower(path.Ext(f))]; ok {
			counts[lang]++
		}
	}

	out := make([]languageCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, languageCount{name: name, count: count})
	}
	slices.SortFunc(out, func(x, y languageCount) int {
		if x.count != y.count {
			return y.count - x.count
		}
		return strings.Compare(x.name, y.name)
	})
	return out
}

func findReadme(files []string) string {
	for _, f := range files {
		if !strings.Contains(f, "/") && strings.HasPrefix(strings.ToLower(f), "readme") {
			return f
		}
	}
	return ""
}

func headLines(filename string, n int) string {
	f, err := os.Open(filename)
	if err != nil {
		return ""
	}
	defer f.Close()

	var b strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), DefaultMaxFileBytes)
	for i := 0; i < n && sc.Scan(); i++ {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if sc.Err() != nil {
		b.WriteString("...\n")
	}
	return b.String()
}

func pathDepth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(p), "/") + 1
}
