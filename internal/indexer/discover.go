package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreDirs are directory names never descended into
var DefaultIgnoreDirs = []string{
	".git", ".hg", ".svn", ".bzr",
	"node_modules", "bower_components",
	"__pycache__", ".mypy_cache", ".pytest_cache", ".tox",
	".venv", "venv",
	"vendor", "dist", "build", "target", "out",
	".idea", ".vscode", ".vs",
	".next", ".nuxt", "coverage",
}

// sourceFile is a file selected for indexing
type sourceFile struct {
	Rel     string // slash separated, relative to root
	Abs     string
	Size    int64
	ModTime time.Time
}

// discoverer walks a project and applies the ignore rules
type discoverer struct {
	root        string
	config      *Config
	ignoreDirs  map[string]bool
	gitignores  map[string]*ignore.GitIgnore // rel dir -> rules of its .gitignore
	skippedSize int
}

func newDiscoverer(root string, config *Config) *discoverer {
	dirs := make(map[string]bool, len(DefaultIgnoreDirs))
	for _, d := range DefaultIgnoreDirs {
		dirs[d] = true
	}
	return &discoverer{
		root:       root,
		config:     config,
		ignoreDirs: dirs,
		gitignores: make(map[string]*ignore.GitIgnore),
	}
}

// discoverFiles finds the files of a project, sorted by relative path
func (d *discoverer) discoverFiles() ([]sourceFile, error) {
	var files []sourceFile

	err := filepath.Walk(d.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == d.root {
				return err
			}
			// Unreadable entries are skipped
			return nil
		}

		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel == "." {
				d.loadGitignore(rel, p)
				return nil
			}
			if d.ignoreDirs[info.Name()] || d.matchesPattern(rel, info.Name()) || d.gitignored(rel, true) {
				return filepath.SkipDir
			}
			d.loadGitignore(rel, p)
			return nil
		}

		// Symlinks, sockets and devices are not indexed
		if !info.Mode().IsRegular() {
			return nil
		}
		if d.matchesPattern(rel, info.Name()) || d.gitignored(rel, false) {
			return nil
		}
		if d.config.MaxFileSize > 0 && info.Size() > d.config.MaxFileSize {
			d.skippedSize++
			return nil
		}

		files = append(files, sourceFile{
			Rel:     rel,
			Abs:     p,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// matchesPattern checks the configured glob patterns against the base
// name and the relative path
func (d *discoverer) matchesPattern(rel, name string) bool {
	for _, pattern := range d.config.IgnorePatterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (d *discoverer) loadGitignore(rel, dir string) {
	if !d.config.RespectGitignore {
		return
	}
	gi, err := ignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return
	}
	d.gitignores[rel] = gi
}

// gitignored checks rel against the .gitignore of every ancestor directory,
// each with the path relative to that directory
func (d *discoverer) gitignored(rel string, isDir bool) bool {
	if !d.config.RespectGitignore || len(d.gitignores) == 0 {
		return false
	}

	dir := path.Dir(rel)
	for {
		if gi, ok := d.gitignores[dir]; ok {
			sub := rel
			if dir != "." {
				sub = strings.TrimPrefix(rel, dir+"/")
			}
			if gi.MatchesPath(sub) || (isDir && gi.MatchesPath(sub+"/")) {
				return true
			}
		}
		if dir == "." {
			return false
		}
		dir = path.Dir(dir)
	}
}

// readFile reads a file and computes the hex SHA-256 of its content
func readFile(filePath string) ([]byte, string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(content)
	return content, hex.EncodeToString(sum[:]), nil
}

// goModInfo contains parsed go.mod information
type goModInfo struct {
	Module string
}

// parseGoMod extracts basic info from go.mod file
func parseGoMod(goModPath string) (*goModInfo, error) {
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, err
	}

	info := &goModInfo{}
	lines := strings.Split(string(content), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			info.Module = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module")), `"`)
			break
		}
	}

	if info.Module == "" {
		return nil, errors.New("go.mod has no module directive")
	}
	return info, nil
}

// errRead describes a file that could not be read
func errRead(rel string, err error) string {
	return fmt.Sprintf("read %s: %v", rel, err)
}
