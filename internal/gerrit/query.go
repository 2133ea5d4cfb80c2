package gerrit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/sshconn"
)

const (
	// DefaultCommandTimeout bounds a single remote command
	DefaultCommandTimeout = 60 * time.Second

	maxLineSize = 10 * 1024 * 1024
)

// QueryOptions tunes the query client
type QueryOptions struct {
	CommandTimeout time.Duration
}

// QueryClient runs `gerrit query` and arbitrary one-line commands over SSH.
// Every call opens its own connection and closes it before returning.
type QueryClient struct {
	dialer  sshconn.Dialer
	timeout time.Duration
	log     *logger.Logger
}

// NewQueryClient creates a client that dials through the given factory
func NewQueryClient(dialer sshconn.Dialer, opts QueryOptions) *QueryClient {
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &QueryClient{
		dialer:  dialer,
		timeout: timeout,
		log:     logger.Get(),
	}
}

// QueryCommand builds the `gerrit query` command line for an expression
func QueryCommand(expr string) string {
	return fmt.Sprintf(`gerrit query --format=JSON --patch-sets --current-patch-set --files "%s"`, EscapeQuery(expr))
}

// EscapeQuery escapes the characters that would break out of the quoted query argument
func EscapeQuery(expr string) string {
	r := strings.NewReplacer(`"`, `\"`, `*`, `\*`)
	return r.Replace(expr)
}

// EscapeMessage escapes free text for a double-quoted command argument
func EscapeMessage(msg string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(msg)
}

// Query runs a query expression and returns every JSON record of the response,
// trailer included. Callers tell change records from the trailer by key presence.
func (c *QueryClient) Query(ctx context.Context, expr string) ([]RawRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	command := QueryCommand(expr)
	c.log.Debugf("Running: %s", command)

	var records []RawRecord
	err := c.run(ctx, command, func(s sshconn.Session) error {
		scanner := bufio.NewScanner(s.Stdout())
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			rec, err := ParseRecord(line, lineNo)
			if err != nil {
				return err
			}
			if rec.IsError() {
				return &ProtocolError{Line: lineNo, Reason: "gerrit returned error: " + rec.ErrorMessage()}
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return &ProtocolError{Line: lineNo + 1, Reason: "line exceeds maximum size", Err: err}
			}
			return &ConnectionError{Op: "read", Err: err}
		}

		if err := s.Wait(); err != nil {
			return &ConnectionError{Op: "query", Err: withStderr(err, s)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// SendCommand runs one command line. It returns true when the connection was
// established and the command exited with status 0; Gerrit sends no other ack.
func (c *QueryClient) SendCommand(ctx context.Context, command string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Debugf("Running: %s", command)

	accepted := false
	err := c.run(ctx, command, func(s sshconn.Session) error {
		_, _ = io.Copy(io.Discard, s.Stdout())

		err := s.Wait()
		var exitErr *sshconn.ExitError
		if errors.As(err, &exitErr) {
			c.log.Warnf("Command rejected: %v", withStderr(err, s))
			return nil
		}
		if err != nil {
			return &ConnectionError{Op: "command", Err: err}
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return accepted, nil
}

// run dials, starts command and hands the session to fn. The connection is closed on
// every path, and closing it is also how a context timeout interrupts a blocked read.
func (c *QueryClient) run(ctx context.Context, command string, fn func(sshconn.Session) error) (err error) {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer func() {
		interrupted := !stop()
		conn.Close()
		// a closed connection can surface as EOF mid-line, so whatever fn
		// made of the truncated output is replaced by the timeout
		if ctx.Err() != nil && (err != nil || interrupted) {
			err = &ConnectionError{Op: "timeout", Err: fmt.Errorf("%s: %w", command, ctx.Err())}
		}
	}()

	s, err := conn.Exec(command)
	if err != nil {
		return &ConnectionError{Op: "exec", Err: err}
	}
	defer s.Close()

	return fn(s)
}

// withStderr attaches whatever the remote side printed on stderr
func withStderr(err error, s sshconn.Session) error {
	if s.Stderr() == nil {
		return err
	}
	msg, _ := io.ReadAll(io.LimitReader(s.Stderr(), 4096))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("%w: %s", err, text)
	}
	return err
}
