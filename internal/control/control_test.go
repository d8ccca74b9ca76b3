package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/thomasrice/voicemode/internal/protocol"
)

type fakeAuthority struct {
	mu        sync.Mutex
	commands  []string
	state     string
	age       int64
	shutdowns int
}

func (f *fakeAuthority) record(cmd string, reply chan protocol.Response, resp protocol.Response) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	reply <- resp
}

func (f *fakeAuthority) Toggle(reply chan protocol.Response) {
	f.record("toggle", reply, protocol.Response{OK: true, Status: protocol.StateRecording, Result: protocol.OutcomeStarted})
}

func (f *fakeAuthority) StartRecording(reply chan protocol.Response) {
	f.record("start", reply, protocol.Response{OK: true, Status: protocol.StateRecording, Result: protocol.OutcomeStarted})
}

func (f *fakeAuthority) StopRecording(reply chan protocol.Response) {
	f.record("stop", reply, protocol.Response{OK: true, Status: protocol.StateIdle, Result: protocol.OutcomeTranscribed})
}

func (f *fakeAuthority) Status(reply chan protocol.Response) {
	f.mu.Lock()
	state, age := f.state, f.age
	f.mu.Unlock()
	if state == "" {
		state = protocol.StateIdle
	}
	reply <- protocol.Response{OK: true, Status: state, SessionAgeMS: age}
}

func (f *fakeAuthority) Shutdown(reply chan protocol.Response) {
	f.mu.Lock()
	f.shutdowns++
	f.mu.Unlock()
	reply <- protocol.Response{OK: true, Status: protocol.StateStopped, Result: protocol.OutcomeStopped}
}

func (f *fakeAuthority) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *fakeAuthority, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voicemode.sock")
	authority := &fakeAuthority{}
	srv := NewServer(context.Background(), path, authority, testLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, authority, path
}

func TestServerRoundTrip(t *testing.T) {
	_, authority, path := newTestServer(t)
	c := NewClient(path)

	resp, err := c.Send(protocol.CmdToggle, 2*time.Second)
	if err != nil {
		t.Fatalf("send toggle: %v", err)
	}
	if !resp.OK || resp.Result != protocol.OutcomeStarted {
		t.Fatalf("toggle response %+v", resp)
	}

	authority.mu.Lock()
	authority.state = protocol.StateRecording
	authority.age = 1234
	authority.mu.Unlock()

	resp, err = c.Send(protocol.CmdStatus, 2*time.Second)
	if err != nil {
		t.Fatalf("send status: %v", err)
	}
	if resp.Status != protocol.StateRecording || resp.SessionAgeMS != 1234 {
		t.Fatalf("status response %+v", resp)
	}

	if got := authority.seen(); len(got) != 1 || got[0] != "toggle" {
		t.Fatalf("authority saw %v", got)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	_, authority, path := newTestServer(t)

	resp, err := NewClient(path).Send("dance", 2*time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.OK || resp.Error != "unknown_command" {
		t.Fatalf("response %+v", resp)
	}
	if got := authority.seen(); len(got) != 0 {
		t.Fatalf("unknown command reached authority: %v", got)
	}
}

func TestServerMalformedRequest(t *testing.T) {
	_, _, path := newTestServer(t)

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json at all\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || resp.Error != "bad_request" {
		t.Fatalf("response %+v", resp)
	}
}

func TestServerMutualExclusion(t *testing.T) {
	srv1, _, path := newTestServer(t)

	srv2 := NewServer(context.Background(), path, &fakeAuthority{}, testLogger())
	err := srv2.Start()
	var already *AlreadyRunningError
	if !errors.As(err, &already) {
		t.Fatalf("second bind returned %v, want AlreadyRunningError", err)
	}
	if already.Path != path {
		t.Fatalf("error path %q, want %q", already.Path, path)
	}

	// once the first instance is gone the address is reclaimable
	srv1.Close()
	if err := srv2.Start(); err != nil {
		t.Fatalf("rebind after close: %v", err)
	}
	srv2.Close()
}

func TestServerReclaimsStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicemode.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("plant stale socket: %v", err)
	}

	srv := NewServer(context.Background(), path, &fakeAuthority{}, testLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("start over stale socket: %v", err)
	}
	defer srv.Close()

	if !NewClient(path).Ping(time.Second) {
		t.Fatal("server not answering after stale reclaim")
	}
}

func TestServerShutdownCommand(t *testing.T) {
	_, authority, path := newTestServer(t)

	resp, err := NewClient(path).Send(protocol.CmdShutdown, 2*time.Second)
	if err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	if !resp.OK || resp.Result != protocol.OutcomeStopped {
		t.Fatalf("shutdown response %+v", resp)
	}
	authority.mu.Lock()
	n := authority.shutdowns
	authority.mu.Unlock()
	if n != 1 {
		t.Fatalf("authority shutdowns = %d, want 1", n)
	}
}

func TestClientPing(t *testing.T) {
	srv, _, path := newTestServer(t)
	c := NewClient(path)

	if !c.Ping(time.Second) {
		t.Fatal("ping against live server failed")
	}
	srv.Close()
	if c.Ping(200 * time.Millisecond) {
		t.Fatal("ping succeeded against closed server")
	}
}

func TestEnsureDaemonAlreadyRunning(t *testing.T) {
	_, _, path := newTestServer(t)

	err := EnsureDaemon(path, func() error {
		t.Fatal("spawn called although daemon is alive")
		return nil
	}, time.Second)
	if err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
}

func TestEnsureDaemonSpawns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicemode.sock")

	var srv *Server
	spawn := func() error {
		srv = NewServer(context.Background(), path, &fakeAuthority{}, testLogger())
		return srv.Start()
	}
	if err := EnsureDaemon(path, spawn, 3*time.Second); err != nil {
		t.Fatalf("EnsureDaemon: %v", err)
	}
	if srv == nil {
		t.Fatal("spawn never called")
	}
	srv.Close()
}

func TestEnsureDaemonSpawnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicemode.sock")
	err := EnsureDaemon(path, func() error { return errors.New("fork bomb averted") }, time.Second)
	if err == nil {
		t.Fatal("EnsureDaemon succeeded without a daemon")
	}
}
