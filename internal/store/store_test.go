package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abusi/clhorde/internal/model"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	p := model.Prompt{
		ID:     1,
		UUID:   NewUUID(),
		Text:   "hello",
		Mode:   model.ModeOneShot,
		Status: model.StatusPending,
	}
	require.NoError(t, s.Save(p))

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, p.Text, loaded[0].Text)
	assert.Equal(t, p.UUID, loaded[0].UUID)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	p := model.Prompt{ID: 1, UUID: NewUUID(), Status: model.StatusPending}
	require.NoError(t, s.Save(p))

	p.Status = model.StatusCompleted
	require.NoError(t, s.Save(p))

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, model.StatusCompleted, loaded[0].Status)

	// No leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(dir, ".clhorde.prompt.tmp.*"))
	assert.Empty(t, matches)
}

func TestDeleteMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	assert.NoError(t, s.Delete("does-not-exist"))
}

func TestLoadAllSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(model.Prompt{ID: 2, UUID: NewUUID(), Status: model.StatusPending}))

	badPath := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{not json"), 0o644))

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 2, loaded[0].ID)
}

func TestWatchIgnoresOwnWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan model.Prompt, 1)
	go s.Watch(ctx, func(p model.Prompt) { seen <- p })
	time.Sleep(50 * time.Millisecond) // let the watcher attach before writing

	require.NoError(t, s.Save(model.Prompt{ID: 1, UUID: NewUUID(), Status: model.StatusPending}))

	select {
	case p := <-seen:
		t.Fatalf("watcher reported own write as external: %+v", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchReportsExternalFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan model.Prompt, 1)
	go s.Watch(ctx, func(p model.Prompt) { seen <- p })
	time.Sleep(50 * time.Millisecond)

	externalUUID := NewUUID()
	data := []byte(`{"id":0,"uuid":"` + externalUUID + `","text":"dropped in by hand","status":"pending"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, externalUUID+".json"), data, 0o644))

	select {
	case p := <-seen:
		assert.Equal(t, externalUUID, p.UUID)
		assert.Equal(t, "dropped in by hand", p.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reported the externally dropped file")
	}
}
