package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/events"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow stream-events and print changes that need a build",
	Long: `Keep a 'gerrit stream-events' session open and print every
patchset-created, ref-updated and change-abandoned event.

On start the currently unverified open changes are printed first (marked
as replayed), so nothing that arrived while no one was watching is missed.
A change seen both in that snapshot and live is printed once.

Tuning lives in config.yaml:
  events:
    workers: 2
    queue_size: 100
    lazy_mode: false
    filter:
      projects: [platform/build]
      exclude: [sandbox]
`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	log := logger.Get()
	cfg := s.cfg

	log.Infof("Gerrit:       %s@%s:%d", cfg.Gerrit.User, cfg.Gerrit.Host, cfg.Gerrit.Port)
	log.Infof("Workers:      %d", cfg.Events.Workers)
	log.Infof("Lazy mode:    %t", cfg.Events.LazyMode)
	if len(cfg.Events.Filter.Projects) > 0 {
		log.Infof("Watch:        %v", cfg.Events.Filter.Projects)
	} else {
		log.Info("Watch:        ALL")
	}
	if len(cfg.Events.Filter.Exclude) > 0 {
		log.Infof("Exclude:      %v", cfg.Events.Filter.Exclude)
	}

	bridge := events.NewEventBridge(events.BridgeConfig{
		Workers:     cfg.Events.Workers,
		QueueSize:   cfg.Events.QueueSize,
		MailboxSize: cfg.Events.MailboxSize,
		DedupSize:   cfg.Events.DedupSize,
		LazyMode:    cfg.Events.LazyMode,
		Filter: events.FilterConfig{
			Projects: cfg.Events.Filter.Projects,
			Exclude:  cfg.Events.Filter.Exclude,
		},
	}, s.repo, events.NewListener(s.dialer))

	ctx := cmd.Context()
	if err := bridge.Start(ctx); err != nil {
		return err
	}

	printer := newEventPrinter(cmd.OutOrStdout(), viper.GetString("output.format"))
	if err := bridge.AddObserver(ctx, printer); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return bridge.Shutdown(shutdownCtx)
}

// eventPrinter writes one line per dispatched event
type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func newEventPrinter(w io.Writer, format string) *eventPrinter {
	return &eventPrinter{w: w, format: format}
}

func (p *eventPrinter) OnEvent(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == "json" {
		data, err := json.Marshal(eventLine{Kind: ev.Kind(), Replayed: ev.Replayed, Event: ev})
		if err != nil {
			logger.Get().Warnf("Failed to encode event: %v", err)
			return
		}
		fmt.Fprintln(p.w, string(data))
		return
	}

	fmt.Fprintln(p.w, describeEvent(ev))
}

type eventLine struct {
	Kind     events.Kind  `json:"kind"`
	Replayed bool         `json:"replayed"`
	Event    events.Event `json:"event"`
}

func describeEvent(ev events.Event) string {
	prefix := string(ev.Kind())
	if ev.Replayed {
		prefix += " (replayed)"
	}

	switch {
	case ev.Kind() == events.KindRefUpdated && ev.RefUpdate != nil:
		r := ev.RefUpdate
		return fmt.Sprintf("%s %s %s %s", prefix, r.Project, r.RefName, shortRev(r.NewRev))
	case ev.Change != nil:
		line := fmt.Sprintf("%s %s %d,%d %s", prefix, ev.Change.Project, ev.ChangeNumber(), ev.PatchSetNumber(), ev.Change.Subject)
		if ev.Reason != "" {
			line += " (" + ev.Reason + ")"
		}
		return line
	}
	return prefix
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
