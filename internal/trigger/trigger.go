// Package trigger is the CI-facing glue: pick the next change to build and send the
// verdict back once the build has finished.
package trigger

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/pkg/types"
)

const (
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 5 * time.Second
)

// BuildLog receives one line per significant outcome. It is the build's own log,
// separate from this program's diagnostic logging.
type BuildLog interface {
	Printf(format string, args ...interface{})
}

type writerLog struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterLog returns a BuildLog writing newline-terminated lines to w
func NewWriterLog(w io.Writer) BuildLog {
	return &writerLog{w: w}
}

func (l *writerLog) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format+"\n", args...)
}

// Finder picks the next change. *gerrit.Repository implements it.
type Finder interface {
	GetLastUnverifiedChange(ctx context.Context, project *string) (*gerrit.Change, error)
}

// Verifier sends a verdict. *gerrit.Reporter implements it.
type Verifier interface {
	Report(ctx context.Context, pass bool, changeNumber, patchSetNumber int, message string) (bool, error)
}

// DeliveryFailure means a verdict did not reach Gerrit. The build outcome itself
// stands; nothing is rolled back or retried.
type DeliveryFailure struct {
	ChangeNumber   int
	PatchSetNumber int
	Err            error // nil when the command was sent but not accepted
}

func (e *DeliveryFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("verification for %d,%d was not accepted", e.ChangeNumber, e.PatchSetNumber)
	}
	return fmt.Sprintf("verification for %d,%d not delivered: %v", e.ChangeNumber, e.PatchSetNumber, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }

// Options bounds the retry around change discovery
type Options struct {
	MaxRetries    int
	RetryInterval time.Duration
}

// Trigger ties discovery and reporting to a build log
type Trigger struct {
	finder   Finder
	verifier Verifier
	buildLog BuildLog
	opts     Options
	log      *logger.Logger
}

// New creates a Trigger. Zero options fall back to the defaults; a negative
// MaxRetries disables retrying.
func New(finder Finder, verifier Verifier, buildLog BuildLog, opts Options) *Trigger {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if buildLog == nil {
		buildLog = NewWriterLog(io.Discard)
	}
	return &Trigger{
		finder:   finder,
		verifier: verifier,
		buildLog: buildLog,
		opts:     opts,
		log:      logger.Get().With("component", "trigger"),
	}
}

// NextChange returns the most recently updated unverified open change, or nil.
// Connection errors are retried up to MaxRetries times; protocol errors are not.
//
// Nothing remembers which change was handed out, so a change whose build just
// failed is returned again until Gerrit shows its -1.
func (t *Trigger) NextChange(ctx context.Context, project *string) (*gerrit.Change, error) {
	var change *gerrit.Change

	op := func() error {
		c, err := t.finder.GetLastUnverifiedChange(ctx, project)
		if err != nil {
			if gerrit.IsConnectionError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		change = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.opts.RetryInterval), uint64(t.opts.MaxRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		t.log.Warnf("Change discovery failed, retrying in %v: %v", wait, err)
	}

	step := t.log.Step("Change discovery")
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		step.Fail(err)
		t.buildLog.Printf("Change discovery failed: %v", err)
		return nil, err
	}
	step.Complete()

	if change == nil {
		t.buildLog.Printf("No change to build%s", projectSuffix(project))
		return nil, nil
	}

	t.buildLog.Printf("Change discovered: %d,%d %q (%s)",
		change.Number, change.LastPatchSetNumber(), change.Subject, change.LastRevision())
	return change, nil
}

// ReportResult sends the verdict for the change's current patch set. A *DeliveryFailure
// is returned when the command could not be sent or was not accepted.
func (t *Trigger) ReportResult(ctx context.Context, change *gerrit.Change, pass bool, message string) error {
	number, ps := change.Number, change.LastPatchSetNumber()
	v := types.Verdict{Pass: pass, ChangeNumber: number, PatchSetNumber: ps, Message: message}

	step := t.log.Step("Verification " + v.Target())
	ok, err := t.verifier.Report(ctx, pass, number, ps, message)
	if err != nil || !ok {
		failure := &DeliveryFailure{ChangeNumber: number, PatchSetNumber: ps, Err: err}
		step.Fail(failure)
		t.buildLog.Printf("Verification delivery failed: %v", failure)
		return failure
	}
	step.Complete()

	t.buildLog.Printf("Verification sent: %s", v.String())
	return nil
}

func projectSuffix(project *string) string {
	if project == nil || *project == "" {
		return ""
	}
	return " in " + *project
}
