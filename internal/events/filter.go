package events

import (
	"strings"
)

// DispatchedKinds are the kinds handed to observers when FilterConfig.Kinds is empty
var DispatchedKinds = []Kind{KindPatchsetCreated, KindRefUpdated, KindChangeAbandoned}

// FilterConfig defines event filtering rules
type FilterConfig struct {
	Kinds    []Kind   // Empty = DispatchedKinds
	Projects []string // Empty = allow all
	Exclude  []string // Exclude these projects
}

// Filter decides which events reach observers
type Filter struct {
	config FilterConfig
	kinds  map[Kind]bool
}

// NewFilter creates a new event filter
func NewFilter(config FilterConfig) *Filter {
	kinds := config.Kinds
	if len(kinds) == 0 {
		kinds = DispatchedKinds
	}

	f := &Filter{config: config, kinds: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

// ShouldProcess returns true if the event should be dispatched to observers
func (f *Filter) ShouldProcess(event Event) bool {
	if !f.kinds[event.Kind()] {
		return false
	}

	switch event.Kind() {
	case KindRefUpdated:
		if event.RefUpdate == nil {
			return false
		}
	default:
		if event.Change == nil {
			return false
		}
	}

	return f.AllowsProject(event.Project())
}

// AllowsProject applies the exclude list, then the allow list
func (f *Filter) AllowsProject(project string) bool {
	for _, excl := range f.config.Exclude {
		if strings.TrimSpace(excl) == project {
			return false
		}
	}

	// If no whitelist, allow all (except excluded)
	if len(f.config.Projects) == 0 {
		return true
	}

	for _, allowed := range f.config.Projects {
		if strings.TrimSpace(allowed) == project {
			return true
		}
	}

	return false
}

// SingleProject returns the only allowed project when exactly one is configured
func (f *Filter) SingleProject() *string {
	if len(f.config.Projects) != 1 {
		return nil
	}
	p := strings.TrimSpace(f.config.Projects[0])
	return &p
}
