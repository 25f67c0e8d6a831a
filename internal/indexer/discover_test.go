package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discover(t *testing.T, root string, config *Config) []string {
	t.Helper()
	files, err := newDiscoverer(root, normalizeConfig(config)).discoverFiles()
	require.NoError(t, err)

	rels := make([]string, len(files))
	for i, f := range files {
		rels[i] = f.Rel
	}
	return rels
}

// TestDiscoverFiles_Success tests successful file discovery
func TestDiscoverFiles_Success(t *testing.T) {
	tmpDir := t.TempDir()

	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "pkg/util.go", "package pkg\n")
	createTestFile(t, tmpDir, "cmd/app/app.py", "print('hi')\n")
	createTestFile(t, tmpDir, "README.md", "# README\n")

	files := discover(t, tmpDir, nil)
	assert.Equal(t, []string{"README.md", "cmd/app/app.py", "main.go", "pkg/util.go"}, files, "sorted, slash separated")
}

// TestDiscoverFiles_EmptyDirectory tests empty directory
func TestDiscoverFiles_EmptyDirectory(t *testing.T) {
	assert.Empty(t, discover(t, t.TempDir(), nil))
}

// TestDiscoverFiles_SkipIgnoredDirs tests the built-in directory ignore list
func TestDiscoverFiles_SkipIgnoredDirs(t *testing.T) {
	tmpDir := t.TempDir()

	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "vendor/lib/lib.go", "package lib\n")
	createTestFile(t, tmpDir, ".git/config", "[core]\n")
	createTestFile(t, tmpDir, "node_modules/left-pad/index.js", "module.exports = 1\n")
	createTestFile(t, tmpDir, "app/__pycache__/mod.pyc", "cached\n")
	createTestFile(t, tmpDir, "app/mod.py", "x = 1\n")

	files := discover(t, tmpDir, nil)
	assert.Equal(t, []string{"app/mod.py", "main.go"}, files)
}

func TestDiscoverFiles_IgnorePatterns(t *testing.T) {
	tmpDir := t.TempDir()

	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "main_test.go", "package main\n")
	createTestFile(t, tmpDir, "web/app.min.js", "x\n")
	createTestFile(t, tmpDir, "docs/guide.md", "# guide\n")

	files := discover(t, tmpDir, &Config{IgnorePatterns: []string{"*_test.go", "*.min.js", "docs"}})
	assert.Equal(t, []string{"main.go"}, files)
}

func TestDiscoverFiles_Gitignore(t *testing.T) {
	tmpDir := t.TempDir()

	createTestFile(t, tmpDir, ".gitignore", "*.log\ngenerated/\n")
	createTestFile(t, tmpDir, "main.go", "package main\n")
	createTestFile(t, tmpDir, "debug.log", "log\n")
	createTestFile(t, tmpDir, "generated/out.go", "package generated\n")
	createTestFile(t, tmpDir, "sub/.gitignore", "local.go\n")
	createTestFile(t, tmpDir, "sub/local.go", "package sub\n")
	createTestFile(t, tmpDir, "sub/kept.go", "package sub\n")
	createTestFile(t, tmpDir, "local.go", "package main\n")

	t.Run("respected", func(t *testing.T) {
		files := discover(t, tmpDir, &Config{RespectGitignore: true})
		assert.Equal(t, []string{".gitignore", "local.go", "main.go", "sub/.gitignore", "sub/kept.go"}, files,
			"nested rules only apply below their directory")
	})

	t.Run("disabled", func(t *testing.T) {
		files := discover(t, tmpDir, &Config{RespectGitignore: false})
		assert.Contains(t, files, "debug.log")
		assert.Contains(t, files, "generated/out.go")
		assert.Contains(t, files, "sub/local.go")
	})
}

func TestDiscoverFiles_MaxFileSize(t *testing.T) {
	tmpDir := t.TempDir()

	createTestFile(t, tmpDir, "small.go", "package main\n")
	createTestFile(t, tmpDir, "large.go", "package main\n"+strings.Repeat("// padding\n", 100))

	d := newDiscoverer(tmpDir, normalizeConfig(&Config{MaxFileSize: 64}))
	files, err := d.discoverFiles()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "small.go", files[0].Rel)
	assert.Equal(t, 1, d.skippedSize)
}

func TestDiscoverFiles_WithSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	target := createTestFile(t, tmpDir, "real.go", "package main\n")

	if err := os.Symlink(target, filepath.Join(tmpDir, "link.go")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	assert.Equal(t, []string{"real.go"}, discover(t, tmpDir, nil))
}

func TestDiscoverFiles_MissingRoot(t *testing.T) {
	_, err := newDiscoverer(filepath.Join(t.TempDir(), "missing"), normalizeConfig(nil)).discoverFiles()
	assert.Error(t, err)
}

// TestReadFile tests hash computation
func TestReadFile(t *testing.T) {
	tmpDir := t.TempDir()
	content := "package main\n\nfunc main() {}\n"
	filePath := createTestFile(t, tmpDir, "test.go", content)

	data, hash, err := readFile(filePath)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), hash)
	assert.Equal(t, content, string(data))
	assert.Len(t, hash, 64)
}

func TestReadFile_DifferentContent(t *testing.T) {
	tmpDir := t.TempDir()
	a := createTestFile(t, tmpDir, "a.go", "package a\n")
	b := createTestFile(t, tmpDir, "b.go", "package b\n")

	_, hashA, err := readFile(a)
	require.NoError(t, err)
	_, hashB, err := readFile(b)
	require.NoError(t, err)
	assert.NotEqual(t, hashA, hashB)
}

func TestReadFile_NonexistentFile(t *testing.T) {
	_, _, err := readFile("/nonexistent/file.go")
	assert.Error(t, err)
}

func TestParseGoMod(t *testing.T) {
	tmpDir := t.TempDir()
	goModPath := createTestFile(t, tmpDir, "go.mod", `module github.com/test/project

go 1.21

require (
	github.com/stretchr/testify v1.8.0
)
`)

	info, err := parseGoMod(goModPath)
	require.NoError(t, err)
	assert.Equal(t, "github.com/test/project", info.Module)
}

func TestParseGoMod_NonexistentFile(t *testing.T) {
	_, err := parseGoMod("/nonexistent/go.mod")
	assert.Error(t, err)
}

func TestParseGoMod_NoModule(t *testing.T) {
	goModPath := createTestFile(t, t.TempDir(), "go.mod", "go 1.21\n")
	_, err := parseGoMod(goModPath)
	assert.Error(t, err)
}
