package gerrit

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/sshconn"
)

// fakeResponse is what the fake server answers for one command
type fakeResponse struct {
	stdout  string
	stderr  string
	waitErr error
	execErr error
	// hang keeps stdout open until the connection is closed, after writing stdout
	hang bool
	// eofOnClose ends a hung stdout with a clean EOF, as x/crypto/ssh does
	eofOnClose bool
}

type fakeDialer struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	fallback  *fakeResponse
	dialErr   error

	commands []string
	dials    int
	closes   int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{responses: make(map[string]fakeResponse)}
}

// onQuery registers the stdout for a query expression
func (d *fakeDialer) onQuery(expr string, lines ...string) *fakeDialer {
	d.responses[QueryCommand(expr)] = fakeResponse{stdout: strings.Join(lines, "\n") + "\n"}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context) (sshconn.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.dials++
	return &fakeConn{d: d}, nil
}

func (d *fakeDialer) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *fakeDialer) balanced() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials == d.closes
}

type fakeConn struct {
	d     *fakeDialer
	once  sync.Once
	pipeW *io.PipeWriter
	eof   bool
	mu    sync.Mutex
}

func (c *fakeConn) Exec(command string) (sshconn.Session, error) {
	c.d.mu.Lock()
	c.d.commands = append(c.d.commands, command)
	resp, ok := c.d.responses[command]
	if !ok && c.d.fallback != nil {
		resp, ok = *c.d.fallback, true
	}
	c.d.mu.Unlock()

	if !ok {
		return nil, errors.New("unexpected command: " + command)
	}
	if resp.execErr != nil {
		return nil, resp.execErr
	}

	s := &fakeSession{stderr: strings.NewReader(resp.stderr), waitErr: resp.waitErr}
	if resp.hang {
		r, w := io.Pipe()
		c.mu.Lock()
		c.pipeW = w
		c.eof = resp.eofOnClose
		c.mu.Unlock()
		s.stdout = r
		if resp.stdout != "" {
			go w.Write([]byte(resp.stdout))
		}
	} else {
		s.stdout = strings.NewReader(resp.stdout)
	}
	return s, nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		switch {
		case c.pipeW != nil && c.eof:
			c.pipeW.Close()
		case c.pipeW != nil:
			c.pipeW.CloseWithError(io.ErrClosedPipe)
		}
		c.mu.Unlock()

		c.d.mu.Lock()
		c.d.closes++
		c.d.mu.Unlock()
	})
	return nil
}

type fakeSession struct {
	stdout  io.Reader
	stderr  io.Reader
	waitErr error
}

func (s *fakeSession) Stdout() io.Reader { return s.stdout }
func (s *fakeSession) Stderr() io.Reader { return s.stderr }
func (s *fakeSession) Wait() error       { return s.waitErr }
func (s *fakeSession) Close() error      { return nil }
