package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/thomasrice/voicemode/internal/protocol"
)

// replyTimeout bounds how long a connection waits for the session authority.
// A stop reply is only sent once transcription finishes, so this covers the
// full retry budget of a slow upload.
const replyTimeout = 2 * time.Minute

// AlreadyRunningError means a live daemon already owns the control socket.
type AlreadyRunningError struct {
	Path string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another instance is already listening on %s", e.Path)
}

// Authority is the slice of the session machine the control plane drives.
// The accept loop never touches session state itself; every request becomes
// a command posted to the authority.
type Authority interface {
	Toggle(chan protocol.Response)
	StartRecording(chan protocol.Response)
	StopRecording(chan protocol.Response)
	Status(chan protocol.Response)
	Shutdown(chan protocol.Response)
}

// Server answers line-oriented JSON requests on a per-user unix socket.
type Server struct {
	path      string
	authority Authority
	log       *slog.Logger
	ln        net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewServer(parent context.Context, path string, authority Authority, log *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(parent)
	return &Server{
		path:      path,
		authority: authority,
		log:       log.With(slog.String("component", "control")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds the socket and begins accepting. A socket file left behind by
// a dead daemon is probed first and unlinked only if nothing answers; a live
// daemon yields AlreadyRunningError rather than a transport error.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		if probeAlive(s.path) {
			return &AlreadyRunningError{Path: s.path}
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
		s.log.Warn("removed stale control socket", slog.String("path", s.path))
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return &AlreadyRunningError{Path: s.path}
		}
		return fmt.Errorf("bind control socket: %w", err)
	}
	s.ln = ln
	s.log.Info("control socket listening", slog.String("path", s.path))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Close stops accepting, waits for in-flight requests, and reclaims the
// socket path.
func (s *Server) Close() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.path)
}

func (s *Server) Healthy() bool {
	return s.ln != nil
}

func probeAlive(path string) bool {
	resp, err := NewClient(path).Send(protocol.CmdPing, 500*time.Millisecond)
	return err == nil && resp.OK
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.log.Warn("accept failed", slogError(err))
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(replyTimeout))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(bytes.TrimSpace(line)) == 0 {
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(bytes.TrimSpace(line), &req); err != nil {
		s.respond(conn, protocol.Response{OK: false, Error: "bad_request"})
		return
	}
	s.respond(conn, s.dispatch(req))
}

func (s *Server) dispatch(req protocol.Request) protocol.Response {
	reply := make(chan protocol.Response, 1)
	switch strings.ToLower(req.Cmd) {
	case protocol.CmdPing, protocol.CmdStatus:
		s.authority.Status(reply)
	case protocol.CmdToggle:
		s.authority.Toggle(reply)
	case protocol.CmdStart:
		s.authority.StartRecording(reply)
	case protocol.CmdStop:
		s.authority.StopRecording(reply)
	case protocol.CmdShutdown, "stop-server", "quit":
		s.authority.Shutdown(reply)
	default:
		return protocol.Response{OK: false, Error: "unknown_command"}
	}

	select {
	case resp := <-reply:
		return resp
	case <-time.After(replyTimeout):
		return protocol.Response{OK: false, Error: "timeout"}
	}
}

func (s *Server) respond(conn net.Conn, resp protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("failed to marshal response", slogError(err))
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Warn("failed to write response", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
