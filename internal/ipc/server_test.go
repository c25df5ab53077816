package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abusi/clhorde/internal/model"
	"github.com/abusi/clhorde/internal/orchestrator"
	"github.com/abusi/clhorde/internal/store"
	"github.com/abusi/clhorde/internal/wire"
	"github.com/abusi/clhorde/internal/worker"
)

func startTestServer(t *testing.T) (socketPath string, srv *Server) {
	t.Helper()
	dir := t.TempDir()

	s, err := store.New(filepath.Join(dir, "prompts"))
	require.NoError(t, err)

	spawnFn := func(ctx context.Context, spawn worker.Spawn) (worker.Worker, error) {
		return nil, errNoWorkers
	}

	o, err := orchestrator.New(orchestrator.Config{
		Store:       s,
		SpawnPTY:    spawnFn,
		SpawnStream: spawnFn,
		MaxWorkers:  2,
	})
	require.NoError(t, err)
	go o.Run(context.Background())
	t.Cleanup(func() { o.Shutdown(time.Second) })

	socketPath = filepath.Join(dir, "daemon.sock")
	pidPath := filepath.Join(dir, "daemon.pid")
	srv = New(o, socketPath, pidPath)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Shutdown)

	return socketPath, srv
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errNoWorkers = testErr("no worker configured in this test")

func dial(t *testing.T, socketPath string) net.Conn {
	t.Helper()
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, time.Second, 10*time.Millisecond)
	return conn
}

func sendRequest(t *testing.T, conn net.Conn, req Request) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, wire.WriteJSON(conn, payload))
}

func readMessage(t *testing.T, r *bufio.Reader) Message {
	t.Helper()
	frame, err := wire.Decode(r)
	require.NoError(t, err)
	require.Equal(t, wire.KindJSON, frame.Kind)
	var msg Message
	require.NoError(t, json.Unmarshal(frame.Payload, &msg))
	return msg
}

func TestPingRoundTrip(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()

	sendRequest(t, conn, Request{Type: VerbPing})
	msg := readMessage(t, bufio.NewReader(conn))
	require.Equal(t, MsgPong, msg.Type)
}

func TestSubmitPromptRespondsWithPromptAdded(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()

	sendRequest(t, conn, Request{Type: VerbSubmitPrompt, Text: "@urgent hello there", Mode: string(model.ModeOneShot)})
	msg := readMessage(t, bufio.NewReader(conn))
	require.Equal(t, MsgPromptAdded, msg.Type)
	require.NotNil(t, msg.Prompt)
	require.Equal(t, "hello there", msg.Prompt.Text)
	require.Equal(t, []string{"urgent"}, msg.Prompt.Tags)
}

func TestGetStateReturnsSnapshot(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendRequest(t, conn, Request{Type: VerbSubmitPrompt, Text: "hi", Mode: string(model.ModeOneShot)})
	_ = readMessage(t, r)

	sendRequest(t, conn, Request{Type: VerbGetState})
	msg := readMessage(t, r)
	require.Equal(t, MsgStateSnapshot, msg.Type)
	require.Len(t, msg.Prompts, 1)
}

func TestSubscribeDeliversSnapshotThenUpdates(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendRequest(t, conn, Request{Type: VerbSubscribe})
	snap := readMessage(t, r)
	require.Equal(t, MsgStateSnapshot, snap.Type)
	require.Empty(t, snap.Prompts)

	sendRequest(t, conn, Request{Type: VerbSubmitPrompt, Text: "hi", Mode: string(model.ModeOneShot)})
	added := readMessage(t, r)
	require.Equal(t, MsgPromptAdded, added.Type)
}

func TestUnknownVerbRespondsError(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()

	sendRequest(t, conn, Request{Type: "DoesNotExist"})
	msg := readMessage(t, bufio.NewReader(conn))
	require.Equal(t, MsgError, msg.Type)
}

func TestDeletePromptRespondsWithPromptRemoved(t *testing.T) {
	socketPath, _ := startTestServer(t)
	conn := dial(t, socketPath)
	defer conn.Close()
	r := bufio.NewReader(conn)

	sendRequest(t, conn, Request{Type: VerbSubmitPrompt, Text: "hi", Mode: string(model.ModeOneShot)})
	added := readMessage(t, r)

	sendRequest(t, conn, Request{Type: VerbDeletePrompt, PromptID: added.Prompt.ID})
	removed := readMessage(t, r)
	require.Equal(t, MsgPromptRemoved, removed.Type)
	require.Equal(t, added.Prompt.ID, removed.PromptID)
}
