package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFilters(t *testing.T) {
	ignore := IgnoreDirs("node_modules", ".git")
	assert.True(t, ignore("/project/src/index.js"))
	assert.False(t, ignore("/project/node_modules/lib/index.js"))
	assert.False(t, ignore("/project/.git/HEAD"))

	tree := IgnoreTree("/project/build")
	assert.False(t, tree("/project/build"))
	assert.False(t, tree("/project/build/index.html"))
	assert.True(t, tree("/project/builder/index.js"))

	assert.False(t, NoEditorTempFilter("/p/index.html~"))
	assert.False(t, NoEditorTempFilter("/p/.index.html.swp"))
	assert.False(t, NoEditorTempFilter("/p/.#index.html"))
	assert.True(t, NoEditorTempFilter("/p/index.html"))
}

func TestAddRecursiveSkipsFilteredDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "lib"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))

	fw, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()
	fw.AddFilter(IgnoreDirs("node_modules"))

	require.NoError(t, fw.AddRecursive(root))
	assert.Equal(t, []string{
		root,
		filepath.Join(root, "src"),
		filepath.Join(root, "src", "lib"),
	}, fw.WatchList())
}

func TestDebouncedBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	fw, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	fw.AddFilter(NoEditorTempFilter)
	require.NoError(t, fw.AddRecursive(root))

	var mu sync.Mutex
	var batches [][]ChangeEvent
	fw.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, events)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	target := filepath.Join(root, "index.html")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(target, []byte("<body></body>"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html~"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	first := batches[0]
	mu.Unlock()
	require.Len(t, first, 1)
	assert.Equal(t, target, first[0].Path)
	assert.EqualValues(t, len("<body></body>"), first[0].Size)

	require.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}

func TestAddEventAfterStopIsDropped(t *testing.T) {
	fw, err := NewFileWatcher(time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Stop())

	assert.NotPanics(t, func() {
		fw.addEvent(ChangeEvent{Path: "/x"})
		fw.flush()
	})
}
