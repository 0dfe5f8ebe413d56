package fswatch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/streamspace-core/internal/fswatch"
)

func TestWatcher_DetectsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	events := make(chan fswatch.Event, 8)
	w := fswatch.New(50*time.Millisecond, zerolog.Nop(), func(e fswatch.Event) {
		events <- e
	})
	defer w.Close()

	require.NoError(t, w.Watch(path))

	time.Sleep(10 * time.Millisecond) // let the initial stat settle
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))

	select {
	case e := <-events:
		assert.Equal(t, fswatch.Modified, e.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a modification event")
	}
}

func TestWatcher_Unwatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	events := make(chan fswatch.Event, 8)
	w := fswatch.New(30*time.Millisecond, zerolog.Nop(), func(e fswatch.Event) {
		events <- e
	})
	defer w.Close()

	require.NoError(t, w.Watch(path))
	w.Unwatch(path)

	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	select {
	case e := <-events:
		t.Fatalf("unexpected event after unwatch: %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}
