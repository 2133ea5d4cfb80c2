package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/queue"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/worker"
)

// Defaults applied by NewEventBridge to zero BridgeConfig fields
const (
	DefaultWorkers     = 2
	DefaultQueueSize   = 100
	DefaultMailboxSize = 64
	DefaultDedupSize   = 1024
)

var (
	ErrAlreadyStarted  = errors.New("event bridge already started")
	ErrNotListening    = errors.New("event bridge is not listening")
	ErrInvalidObserver = errors.New("observer must be a non-nil comparable value")
)

// State is the lifecycle state of an EventBridge
type State int32

const (
	StateUninitialized State = iota
	StateListening
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Observer receives dispatched events. Implementations must be comparable
// (pointer receivers); identity is what makes a second AddObserver a no-op.
// AddObserver rejects func and other non-comparable types with ErrInvalidObserver.
// OnEvent runs on a goroutine owned by the observer's subscription.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// ChangeSource provides the snapshot replayed to the first observer.
// *gerrit.Repository implements it.
type ChangeSource interface {
	GetUnverifiedOpenChanges(ctx context.Context, project *string) ([]*gerrit.Change, error)
}

// EventStream produces live events. *Listener implements it. The returned channel
// must be closed once ctx is done; Shutdown waits for that.
type EventStream interface {
	StreamEvents(ctx context.Context) (<-chan Event, error)
}

// BridgeConfig tunes the bridge; none of these affect correctness
type BridgeConfig struct {
	Workers     int
	QueueSize   int
	MailboxSize int
	DedupSize   int
	LazyMode    bool
	Filter      FilterConfig
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = DefaultMailboxSize
	}
	if c.DedupSize <= 0 {
		c.DedupSize = DefaultDedupSize
	}
	return c
}

// EventBridge keeps one stream-events session open and fans dispatched events out to
// observers. The first observer is first replayed the current unverified open changes.
type EventBridge struct {
	cfg    BridgeConfig
	source ChangeSource
	stream EventStream
	filter *Filter
	queue  *queue.Queue
	pool   *worker.Pool
	log    *logger.Logger
	seq    atomic.Uint64

	// mu guards everything below. It is never held while the replay snapshot is
	// queried or while an observer runs.
	mu     sync.RWMutex
	state  State
	subs   map[Observer]*subscription
	group  *errgroup.Group
	runCtx context.Context
	cancel context.CancelFunc
}

type subscription struct {
	observer Observer
	mailbox  chan Event
	done     chan struct{}
	seen     *lru.Cache[string, struct{}]
}

// NewEventBridge wires a bridge. Nothing runs until Start.
func NewEventBridge(cfg BridgeConfig, source ChangeSource, stream EventStream) *EventBridge {
	cfg = cfg.withDefaults()
	b := &EventBridge{
		cfg:    cfg,
		source: source,
		stream: stream,
		filter: NewFilter(cfg.Filter),
		queue:  queue.NewQueue(cfg.QueueSize, queue.QueueConfig{LazyMode: cfg.LazyMode}),
		log:    logger.Get().With("component", "events"),
		subs:   make(map[Observer]*subscription),
	}
	b.pool = worker.NewPool(cfg.Workers, b.queue, worker.HandlerFunc(b.handle))
	return b
}

// State returns the current lifecycle state
func (b *EventBridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Start opens the event stream and starts the worker pool. The bridge runs until
// Shutdown is called or ctx is cancelled.
func (b *EventBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateUninitialized {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, err := b.stream.StreamEvents(runCtx)
	if err != nil {
		cancel()
		b.state = StateStopped
		return fmt.Errorf("failed to open event stream: %w", err)
	}

	b.group, b.runCtx = errgroup.WithContext(runCtx)
	b.cancel = cancel
	b.pool.Start(b.runCtx)
	b.group.Go(func() error {
		return b.pump(b.runCtx, events)
	})

	b.state = StateListening
	b.log.Infof("Event bridge listening (%d worker(s))", b.cfg.Workers)
	return nil
}

// Shutdown stops the stream, the workers and every subscription goroutine.
// It is safe to call more than once.
func (b *EventBridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateListening {
		b.state = StateStopped
		b.mu.Unlock()
		return nil
	}
	b.state = StateStopped
	b.cancel()
	group := b.group
	b.mu.Unlock()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- group.Wait()
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := b.pool.Stop(ctx); err != nil {
		return err
	}
	b.log.Info("Event bridge stopped")
	return nil
}

// AddObserver registers o for live events. The first observer is replayed the
// current unverified open changes before any live event; replay failures are logged
// and do not prevent registration. Adding a registered observer again is a no-op.
// Observers added while the first one's snapshot is still being queried register
// right away and get no replay.
func (b *EventBridge) AddObserver(ctx context.Context, o Observer) error {
	if !validObserver(o) {
		return fmt.Errorf("%w: %T", ErrInvalidObserver, o)
	}

	seen, err := lru.New[string, struct{}](b.cfg.DedupSize)
	if err != nil {
		return fmt.Errorf("failed to create dedup set: %w", err)
	}
	s := &subscription{
		observer: o,
		mailbox:  make(chan Event, b.cfg.MailboxSize),
		done:     make(chan struct{}),
		seen:     seen,
	}

	// Register before computing the replay so live events arriving meanwhile are
	// buffered in the mailbox rather than lost.
	b.mu.Lock()
	if b.state != StateListening {
		b.mu.Unlock()
		return ErrNotListening
	}
	if _, ok := b.subs[o]; ok {
		b.mu.Unlock()
		return nil
	}
	first := len(b.subs) == 0
	b.subs[o] = s
	b.mu.Unlock()

	var replay []Event
	if first {
		replay = b.snapshot(ctx)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateListening || b.subs[o] != s {
		return nil
	}
	runCtx := b.runCtx
	b.group.Go(func() error {
		b.serve(runCtx, s, replay)
		return nil
	})

	b.log.Infof("Observer registered (%d total, replayed %d change(s))", len(b.subs), len(replay))
	return nil
}

// RemoveObserver unregisters o. The stream keeps running with no observers.
func (b *EventBridge) RemoveObserver(o Observer) bool {
	if !validObserver(o) {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[o]
	if !ok {
		return false
	}
	delete(b.subs, o)
	close(s.done)
	return true
}

// validObserver reports whether o can key the subscription map
func validObserver(o Observer) bool {
	t := reflect.TypeOf(o)
	return t != nil && t.Comparable()
}

// ObserverCount returns the number of registered observers
func (b *EventBridge) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// snapshot builds the replay events from the change source
func (b *EventBridge) snapshot(ctx context.Context) []Event {
	changes, err := b.source.GetUnverifiedOpenChanges(ctx, b.filter.SingleProject())
	if err != nil {
		b.log.Errorf("Replay of unverified changes failed, continuing with live events: %v", err)
		return nil
	}

	gerrit.SortByLastUpdate(changes)

	var out []Event
	for _, c := range changes {
		ev := ReplayEvent(c)
		if !b.filter.ShouldProcess(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ReplayEvent synthesizes the patchset-created event a live stream would have sent
// for the change's current patch set
func ReplayEvent(c *gerrit.Change) Event {
	ps := c.CurrentPatchSet
	return Event{
		Type: "patchset-created",
		Change: &Change{
			Project: c.Project,
			Branch:  c.Branch,
			ID:      c.ID,
			Number:  c.Number,
			Subject: c.Subject,
			Owner:   &Account{Name: c.Owner.Name, Email: c.Owner.Email, Username: c.Owner.Username},
			URL:     c.URL,
			Status:  string(c.Status),
		},
		PatchSet: &PatchSet{
			Number:    ps.Number,
			Ref:       ps.Ref,
			Revision:  ps.Revision,
			Uploader:  &Account{Name: ps.Uploader.Name, Email: ps.Uploader.Email, Username: ps.Uploader.Username},
			CreatedOn: ps.CreatedOn.Unix(),
			Kind:      ps.Kind,
		},
		EventCreatedOn: c.LastUpdate.Unix(),
		Replayed:       true,
	}
}

// pump moves stream events into the work queue. After cancellation it drains the
// stream until it is closed, which ties the stream's goroutine to the errgroup.
func (b *EventBridge) pump(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			for range events {
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				b.log.Warn("Event stream ended")
				return nil
			}
			b.enqueue(ev)
		}
	}
}

func (b *EventBridge) enqueue(ev Event) {
	task := queue.Task{
		Kind:           string(ev.Kind()),
		Project:        ev.Project(),
		ChangeNumber:   ev.ChangeNumber(),
		PatchsetNumber: ev.PatchSetNumber(),
		Payload:        ev,
	}
	if task.ChangeNumber > 0 && task.PatchsetNumber > 0 {
		task.ID = fmt.Sprintf("%s-%s-%d-%d", task.Kind, task.Project, task.ChangeNumber, task.PatchsetNumber)
	} else {
		task.ID = fmt.Sprintf("%s-%d", task.Kind, b.seq.Add(1))
	}

	err := b.queue.Push(task)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrDuplicateTask), errors.Is(err, queue.ErrObsoleteTask):
		b.log.Debugf("Skipping event: %v", err)
	default:
		b.log.Warnf("Dropping event %s: %v", task.ID, err)
	}
}

// handle runs on the worker pool: log every event, fan out the dispatched ones
func (b *EventBridge) handle(_ context.Context, task queue.Task) error {
	ev, ok := task.Payload.(Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", task.Payload)
	}

	if !b.filter.ShouldProcess(ev) {
		b.log.Debugf("Event %s project=%q", ev.Kind(), ev.Project())
		return nil
	}
	b.log.Infof("Event %s project=%q change=%d/%d", ev.Kind(), ev.Project(), ev.ChangeNumber(), ev.PatchSetNumber())

	b.dispatch(ev)
	return nil
}

// dispatch hands ev to every mailbox without blocking on slow observers
func (b *EventBridge) dispatch(ev Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.mailbox <- ev:
		default:
			b.log.Warnf("Observer mailbox full, dropping %s for change %d/%d", ev.Kind(), ev.ChangeNumber(), ev.PatchSetNumber())
		}
	}
}

// serve delivers the replay, then mailbox events, until the subscription ends
func (b *EventBridge) serve(ctx context.Context, s *subscription, replay []Event) {
	for _, ev := range replay {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}
		b.deliver(ctx, s, ev)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.mailbox:
			b.deliver(ctx, s, ev)
		}
	}
}

func (b *EventBridge) deliver(ctx context.Context, s *subscription, ev Event) {
	key := dedupKey(ev)
	if s.seen.Contains(key) {
		b.log.Debugf("Already delivered %s", key)
		return
	}
	s.seen.Add(key, struct{}{})

	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("Observer panicked on %s: %v", key, r)
		}
	}()
	s.observer.OnEvent(ctx, ev)
}

// dedupKey identifies an event for the recently-delivered set: change events by
// (change id, patch set), ref updates by (project, ref, new revision)
func dedupKey(ev Event) string {
	if ev.Kind() == KindRefUpdated && ev.RefUpdate != nil {
		r := ev.RefUpdate
		return fmt.Sprintf("%s|%s|%s|%s", ev.Kind(), r.Project, r.RefName, r.NewRev)
	}
	id := ""
	if ev.Change != nil {
		id = ev.Change.ID
	}
	return fmt.Sprintf("%s|%s|%d", ev.Kind(), id, ev.PatchSetNumber())
}
