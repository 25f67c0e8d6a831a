package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/pkg/types"
)

// fakeIndexer records IndexProject calls
type fakeIndexer struct {
	mu    sync.Mutex
	calls map[string]int
	busy  int // number of calls to reject with ErrStorageBusy
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{calls: make(map[string]int)}
}

func (f *fakeIndexer) IndexProject(ctx context.Context, root string, config *indexer.Config) (*indexer.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[root]++
	if f.busy > 0 {
		f.busy--
		return nil, fmt.Errorf("%w: %s is already being indexed", types.ErrStorageBusy, root)
	}
	return &indexer.Statistics{Generation: int64(f.calls[root]), FilesIndexed: 1}, nil
}

func (f *fakeIndexer) count(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[root]
}

func startWatcher(t *testing.T, idx Indexer, roots ...string) context.CancelFunc {
	t.Helper()
	w, err := New(idx, roots, nil, 50*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return cancel
}

func TestNew(t *testing.T) {
	_, err := New(newFakeIndexer(), nil, nil, time.Second, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidRequest))

	w, err := New(newFakeIndexer(), []string{"/srv/app/../shop"}, nil, time.Second, nil)
	require.NoError(t, err)
	defer w.fsw.Close()
	assert.Equal(t, []string{"/srv/shop"}, w.roots)
}

func TestRun_InitialIndex(t *testing.T) {
	idx := newFakeIndexer()
	a, b := t.TempDir(), t.TempDir()
	startWatcher(t, idx, a, b)

	require.Eventually(t, func() bool {
		return idx.count(a) == 1 && idx.count(b) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRun_ReindexesOnChange(t *testing.T) {
	idx := newFakeIndexer()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	startWatcher(t, idx, root)

	require.Eventually(t, func() bool { return idx.count(root) == 1 }, 5*time.Second, 10*time.Millisecond)

	// A burst of writes is one re-index
	for i := 0; i < 5; i++ {
		path := filepath.Join(root, "pkg", "main.go")
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("package main // %d\n", i)), 0o644))
	}

	require.Eventually(t, func() bool { return idx.count(root) == 2 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, idx.count(root))
}

func TestRun_NewDirectory(t *testing.T) {
	idx := newFakeIndexer()
	root := t.TempDir()
	startWatcher(t, idx, root)
	require.Eventually(t, func() bool { return idx.count(root) == 1 }, 5*time.Second, 10*time.Millisecond)

	dir := filepath.Join(root, "internal")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.Eventually(t, func() bool { return idx.count(root) == 2 }, 5*time.Second, 10*time.Millisecond)

	// Files in the new directory are watched too
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x = 1\n"), 0o644))
	require.Eventually(t, func() bool { return idx.count(root) == 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestRun_IgnoredDirectory(t *testing.T) {
	idx := newFakeIndexer()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "lib"), 0o755))
	startWatcher(t, idx, root)
	require.Eventually(t, func() bool { return idx.count(root) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "lib", "index.js"), []byte("1"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, idx.count(root))
}

func TestRun_RetriesBusyProject(t *testing.T) {
	idx := newFakeIndexer()
	idx.busy = 1
	root := t.TempDir()
	startWatcher(t, idx, root)

	require.Eventually(t, func() bool { return idx.count(root) == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestRootOf(t *testing.T) {
	w := &Watcher{roots: []string{"/srv/app", "/srv/app/sub", "/srv/application"}}

	assert.Equal(t, "/srv/app", w.rootOf("/srv/app/main.go"))
	assert.Equal(t, "/srv/app/sub", w.rootOf("/srv/app/sub/x.go"))
	assert.Equal(t, "/srv/application", w.rootOf("/srv/application/y.go"))
	assert.Equal(t, "", w.rootOf("/srv/other/z.go"))
}

func TestIgnored(t *testing.T) {
	w := &Watcher{ignoreDirs: map[string]bool{".git": true, "vendor": true}}

	assert.True(t, w.ignored("/p", "/p/.git/index"))
	assert.True(t, w.ignored("/p", "/p/vendor"))
	assert.True(t, w.ignored("/p", "/p/a/vendor/b.go"))
	assert.False(t, w.ignored("/p", "/p/a/b.go"))
}
