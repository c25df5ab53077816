package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"

	"github.com/abusi/clhorde/internal/config"
	"github.com/abusi/clhorde/internal/ipc"
	"github.com/abusi/clhorde/internal/wire"
)

// dialDaemon connects to the running daemon's control socket.
func dialDaemon() (net.Conn, error) {
	conn, err := net.Dial("unix", config.SocketPath(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon (is clhorded running?): %w", err)
	}
	return conn, nil
}

func sendRequest(conn net.Conn, req ipc.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return wire.WriteJSON(conn, payload)
}

func readReply(r *bufio.Reader) (ipc.Message, error) {
	frame, err := wire.Decode(r)
	if err != nil {
		return ipc.Message{}, fmt.Errorf("decoding reply: %w", err)
	}
	if frame.Kind != wire.KindJSON {
		return ipc.Message{}, fmt.Errorf("unexpected non-JSON reply")
	}
	var msg ipc.Message
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		return ipc.Message{}, fmt.Errorf("unmarshaling reply: %w", err)
	}
	return msg, nil
}
