package events

import (
	"strings"
)

// Kind is the normalized event type used for dispatch decisions
type Kind string

const (
	KindPatchsetCreated Kind = "PATCHSET_CREATED"
	KindRefUpdated      Kind = "REF_UPDATED"
	KindChangeAbandoned Kind = "CHANGE_ABANDONED"
)

// Event represents a Gerrit stream-events JSON line
type Event struct {
	Type           string     `json:"type"`
	Change         *Change    `json:"change,omitempty"`
	PatchSet       *PatchSet  `json:"patchSet,omitempty"`
	RefUpdate      *RefUpdate `json:"refUpdate,omitempty"`
	Uploader       *Account   `json:"uploader,omitempty"`
	Submitter      *Account   `json:"submitter,omitempty"`
	Abandoner      *Account   `json:"abandoner,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	EventCreatedOn int64      `json:"eventCreatedOn"`

	// Replayed marks events synthesized from a query snapshot rather than received live
	Replayed bool `json:"-"`
}

// Change represents change information in an event
type Change struct {
	Project string   `json:"project"`
	Branch  string   `json:"branch"`
	ID      string   `json:"id"`
	Number  int      `json:"number"`
	Subject string   `json:"subject"`
	Owner   *Account `json:"owner,omitempty"`
	URL     string   `json:"url,omitempty"`
	Status  string   `json:"status,omitempty"`
}

// PatchSet represents patchset information in an event
type PatchSet struct {
	Number    int      `json:"number"`
	Ref       string   `json:"ref"`
	Revision  string   `json:"revision"`
	Uploader  *Account `json:"uploader,omitempty"`
	CreatedOn int64    `json:"createdOn,omitempty"`
	Kind      string   `json:"kind,omitempty"`
}

// RefUpdate is the payload of ref-updated events
type RefUpdate struct {
	OldRev  string `json:"oldRev"`
	NewRev  string `json:"newRev"`
	RefName string `json:"refName"`
	Project string `json:"project"`
}

// Account represents a Gerrit user account
type Account struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// Kind maps the wire type (patchset-created) to its Kind (PATCHSET_CREATED).
// Unknown types are upper-cased the same way and pass through.
func (e Event) Kind() Kind {
	switch e.Type {
	case "patchset-created":
		return KindPatchsetCreated
	case "ref-updated":
		return KindRefUpdated
	case "change-abandoned":
		return KindChangeAbandoned
	}
	return Kind(strings.ToUpper(strings.ReplaceAll(e.Type, "-", "_")))
}

// Project returns the project the event belongs to, or ""
func (e Event) Project() string {
	if e.Change != nil {
		return e.Change.Project
	}
	if e.RefUpdate != nil {
		return e.RefUpdate.Project
	}
	return ""
}

// ChangeNumber returns the change number, or 0 for events without a change
func (e Event) ChangeNumber() int {
	if e.Change == nil {
		return 0
	}
	return e.Change.Number
}

// PatchSetNumber returns the patch set number, or 0 for events without a patch set
func (e Event) PatchSetNumber() int {
	if e.PatchSet == nil {
		return 0
	}
	return e.PatchSet.Number
}
