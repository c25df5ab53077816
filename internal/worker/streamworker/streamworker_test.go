package streamworker

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abusi/clhorde/internal/worker"
)

// fakeFactory runs a short shell script instead of the real claude binary,
// mirroring the teacher's CommandFactoryFunc test injection point.
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

func TestStreamingWorkerParsesSessionAssistantAndResult(t *testing.T) {
	script := `
cat <<'EOF'
{"type":"system","session_id":"sess-123"}
{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}
{"type":"result"}
EOF
`
	w, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir()}, fakeFactory(script))
	require.NoError(t, err)

	events := collect(t, w, 5*time.Second)

	var sawSession, sawChunk, sawTurn, sawFinished bool
	for _, e := range events {
		switch e.Kind {
		case worker.EventSessionID:
			sawSession = true
			assert.Equal(t, "sess-123", e.SessionID)
		case worker.EventOutputChunk:
			sawChunk = true
			assert.Equal(t, "hello", e.Text)
		case worker.EventTurnComplete:
			sawTurn = true
		case worker.EventFinished:
			sawFinished = true
		}
	}
	assert.True(t, sawSession)
	assert.True(t, sawChunk)
	assert.True(t, sawTurn)
	assert.True(t, sawFinished)
}

func TestStreamingWorkerIgnoresMalformedLines(t *testing.T) {
	script := `
cat <<'EOF'
not json at all
{"type":"assistant","message":{"content":[{"type":"text","text":"ok"}]}}
EOF
`
	w, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir()}, fakeFactory(script))
	require.NoError(t, err)

	events := collect(t, w, 5*time.Second)
	found := false
	for _, e := range events {
		if e.Kind == worker.EventOutputChunk && e.Text == "ok" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestKillSignalsChild(t *testing.T) {
	script := `sleep 30`
	w, err := SpawnWith(context.Background(), worker.Spawn{Text: "hi", Cwd: t.TempDir()}, fakeFactory(script))
	require.NoError(t, err)

	w.Kill()

	events := collect(t, w, 3*time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, worker.EventFinished, last.Kind)
	assert.Error(t, last.Err)
}
