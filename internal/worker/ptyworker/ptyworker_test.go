package ptyworker

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abusi/clhorde/internal/worker"
)

// fakeFactory runs a short shell script in place of the real claude
// binary, mirroring streamworker's test injection point.
func fakeFactory(script string) CommandFactory {
	return func(ctx context.Context, args []string, cwd string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "sh", "-c", script)
		cmd.Dir = cwd
		return cmd
	}
}

func collect(t *testing.T, w worker.Worker, timeout time.Duration) []worker.Event {
	t.Helper()
	var events []worker.Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-w.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-deadline:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestPTYWorkerRelaysOutputAndFinishes(t *testing.T) {
	script := `printf 'hello from pty\n'; sleep 0.1`
	w, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir(), Cols: 80, Rows: 24}, fakeFactory(script))
	require.NoError(t, err)

	events := collect(t, w, 5*time.Second)

	var sawBytes, sawFinished bool
	var all []byte
	for _, e := range events {
		switch e.Kind {
		case worker.EventPTYBytes:
			sawBytes = true
			all = append(all, e.Data...)
		case worker.EventFinished:
			sawFinished = true
		}
	}
	assert.True(t, sawBytes)
	assert.True(t, sawFinished)
	assert.Contains(t, string(all), "hello from pty")
}

func TestPTYWorkerExtractTextTrimsBlankLines(t *testing.T) {
	script := `printf 'line one\nline two\n'; sleep 0.1`
	pw, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir(), Cols: 80, Rows: 24}, fakeFactory(script))
	require.NoError(t, err)

	w := pw.(*Worker)
	collect(t, w, 5*time.Second)

	text := w.ExtractText()
	assert.Contains(t, text, "line one")
	assert.Contains(t, text, "line two")
}

func TestPTYWorkerKillSignalsChild(t *testing.T) {
	w, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir(), Cols: 80, Rows: 24}, fakeFactory("sleep 30"))
	require.NoError(t, err)

	w.Kill()

	events := collect(t, w, 3*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, worker.EventFinished, last.Kind)
	assert.Error(t, last.Err)
}

func TestPTYWorkerSendBytesAndResize(t *testing.T) {
	w, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir(), Cols: 80, Rows: 24}, fakeFactory("cat"))
	require.NoError(t, err)
	defer w.Kill()

	require.NoError(t, w.SendBytes([]byte("echo\n")))
	require.NoError(t, w.Resize(100, 40))
}
