package control

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/thomasrice/voicemode/internal/protocol"
)

// Client issues one command per connection to a running daemon.
type Client struct {
	path string
}

func NewClient(path string) *Client {
	return &Client{path: path}
}

// Send writes one JSON request line and reads the single response line.
func (c *Client) Send(cmd string, timeout time.Duration) (protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.path, timeout)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("connect control socket: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(protocol.Request{Cmd: cmd})
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return protocol.Response{}, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(bytes.TrimSpace(line)) == 0 {
		return protocol.Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Ping reports whether a daemon answers on the socket.
func (c *Client) Ping(timeout time.Duration) bool {
	resp, err := c.Send(protocol.CmdPing, timeout)
	return err == nil && resp.OK
}

// EnsureDaemon pings the socket and, when nothing answers, calls spawn to
// launch a daemon and waits for it to come up.
func EnsureDaemon(path string, spawn func() error, wait time.Duration) error {
	c := NewClient(path)
	if c.Ping(500 * time.Millisecond) {
		return nil
	}
	if err := spawn(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if c.Ping(500 * time.Millisecond) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("daemon did not become ready")
}
