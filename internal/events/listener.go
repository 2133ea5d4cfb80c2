package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/sshconn"
)

// StreamCommand is the remote command the listener keeps running
const StreamCommand = "gerrit stream-events"

const (
	maxRetries   = 100
	maxEventSize = 4 * 1024 * 1024
)

var errStreamClosed = errors.New("event stream closed by server")

// Listener listens to Gerrit stream-events over one long-lived SSH session
type Listener struct {
	dialer  sshconn.Dialer
	log     *logger.Logger
	backoff func(retries int) time.Duration
}

// NewListener creates a new event listener
func NewListener(dialer sshconn.Dialer) *Listener {
	return &Listener{
		dialer:  dialer,
		log:     logger.Get(),
		backoff: getBackoff,
	}
}

// StreamEvents opens the SSH session and returns a channel of events.
// It reconnects on connection failures; the channel is closed when ctx is done
// or the retry budget is exhausted.
func (l *Listener) StreamEvents(ctx context.Context) (<-chan Event, error) {
	eventCh := make(chan Event, 100)

	go func() {
		defer close(eventCh)

		retries := 0
		for retries < maxRetries {
			select {
			case <-ctx.Done():
				return
			default:
			}

			connected, err := l.streamOnce(ctx, eventCh)
			if ctx.Err() != nil {
				return
			}
			if connected {
				// Reset retry count after a session that actually came up
				retries = 0
			}

			retries++
			waitTime := l.backoff(retries)
			l.log.Warnf("Connection lost (%v), attempt %d/%d, reconnecting in %v",
				err, retries, maxRetries, waitTime)

			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return
			}
		}

		l.log.Errorf("Max retries (%d) reached", maxRetries)
	}()

	return eventCh, nil
}

// streamOnce establishes one SSH session and streams events until it ends
func (l *Listener) streamOnce(ctx context.Context, eventCh chan<- Event) (bool, error) {
	conn, err := l.dialer.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	session, err := conn.Exec(StreamCommand)
	if err != nil {
		return false, fmt.Errorf("failed to start %s: %w", StreamCommand, err)
	}
	defer session.Close()

	l.log.Info("Connected, listening for events...")

	scanner := bufio.NewScanner(session.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			l.log.Warnf("Failed to parse event: %v", err)
			l.log.Debugf("Raw event: %s", line)
			continue
		}

		select {
		case eventCh <- event:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("scanner error: %w", err)
	}
	if err := session.Wait(); err != nil {
		return true, err
	}
	return true, errStreamClosed
}

// getBackoff returns the wait time before next retry
func getBackoff(retries int) time.Duration {
	if retries < 5 {
		return 5 * time.Second
	}
	return 30 * time.Second
}
