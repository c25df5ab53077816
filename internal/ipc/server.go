// Package ipc implements the daemon's control socket: a Unix-domain
// listener that accepts one connection per client, decodes the framed
// JSON protocol (internal/wire), and translates each verb into a call
// against internal/orchestrator.
//
// Grounded on the accept-loop and stale-socket-removal pattern in
// 36a17a2c_GandalftheGUI-grove__internal-daemon-daemon.go.go's Daemon.Run,
// generalized from its single-request-then-close model to a persistent,
// optionally-subscribed connection (this protocol's Subscribe/attach
// streams state and PTY bytes for the connection's lifetime rather than
// one response per connection).
package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/orchestrator"
	"github.com/abusi/clhorde/internal/wire"
)

// WorkerDrainGrace bounds how long Shutdown waits for live workers to
// exit before the daemon process terminates anyway.
const WorkerDrainGrace = 5 * time.Second

// Server owns the control socket and every live connection.
type Server struct {
	orch       *orchestrator.Orchestrator
	socketPath string
	pidPath    string

	listener net.Listener

	mu           sync.Mutex
	conns        map[int]*connection
	nextConnID   int
	shuttingDown bool
}

// New constructs a Server. Call Listen then Serve to run it.
func New(orch *orchestrator.Orchestrator, socketPath, pidPath string) *Server {
	return &Server{
		orch:       orch,
		socketPath: socketPath,
		pidPath:    pidPath,
		conns:      make(map[int]*connection),
	}
}

// Listen acquires the single-instance lock, removes a stale socket, and
// binds the listener. Call it before Serve.
func (s *Server) Listen() error {
	if err := acquireSingleInstance(s.pidPath); err != nil {
		return err
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		log.Warn(log.CatIPC, "failed removing stale socket", "path", s.socketPath, "error", err)
	}

	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		_ = os.Remove(s.pidPath)
		return fmt.Errorf("ipc: listen on %s: %w", s.socketPath, err)
	}
	s.listener = l
	log.Info(log.CatIPC, "listening", "socket", s.socketPath)
	return nil
}

// Serve accepts connections until the listener is closed by Shutdown. It
// blocks and returns nil on an orderly shutdown.
func (s *Server) Serve() error {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			down := s.shuttingDown
			s.mu.Unlock()
			if down {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		go s.handle(nc)
	}
}

func (s *Server) handle(nc net.Conn) {
	s.mu.Lock()
	s.nextConnID++
	id := s.nextConnID
	c := newConnection(id, nc, s.orch)
	s.conns[id] = c
	s.mu.Unlock()

	log.Debug(log.CatIPC, "connection accepted", "conn_id", id)
	c.serve()

	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
	log.Debug(log.CatIPC, "connection closed", "conn_id", id)
}

// Shutdown stops accepting new connections, broadcasts a shutdown
// message to every live connection, kills all workers (with a drain
// grace period), closes every connection, and unlinks the socket and PID
// file. Safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	shutdownPayload, _ := json.Marshal(Message{Type: "Shutdown"})
	if frame, err := wire.JSONFrame(shutdownPayload); err == nil {
		for _, c := range conns {
			select {
			case c.outEvents <- frame:
			default:
			}
		}
	}

	s.orch.Shutdown(WorkerDrainGrace)

	for _, c := range conns {
		c.close()
	}

	_ = os.Remove(s.socketPath)
	_ = os.Remove(s.pidPath)
	log.Info(log.CatIPC, "shutdown complete")
}
