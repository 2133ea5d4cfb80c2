package gerrit

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Approval label codes as they appear in `gerrit query` output
const (
	LabelVerified   = "VRIF"
	LabelCodeReview = "CRVW"
)

// ChangeStatus is the Gerrit change status
type ChangeStatus string

const (
	StatusNew       ChangeStatus = "NEW"
	StatusMerged    ChangeStatus = "MERGED"
	StatusAbandoned ChangeStatus = "ABANDONED"
	StatusDraft     ChangeStatus = "DRAFT"
)

var changeIDPattern = regexp.MustCompile(`^I[0-9a-fA-F]{40}$`)

// IsChangeID reports whether s looks like a Gerrit Change-Id (I + 40 hex chars)
func IsChangeID(s string) bool {
	return changeIDPattern.MatchString(s)
}

// Account is a Gerrit user as embedded in query output
type Account struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// Change is a snapshot of one Gerrit change built from a single query response.
// Nothing retains a reference to it after it is returned.
type Change struct {
	Project       string       `json:"project"`
	Branch        string       `json:"branch"`
	ID            string       `json:"id"`
	Number        int          `json:"number"`
	Subject       string       `json:"subject"`
	Topic         string       `json:"topic,omitempty"`
	CommitMessage string       `json:"commitMessage,omitempty"`
	Owner         Account      `json:"owner"`
	URL           string       `json:"url,omitempty"`
	CreatedOn     time.Time    `json:"createdOn"`
	LastUpdate    time.Time    `json:"lastUpdate"`
	Open          bool         `json:"open"`
	WIP           bool         `json:"wip,omitempty"`
	Status        ChangeStatus `json:"status"`

	// Sums over approvals of the current patch set only
	VerificationScore int `json:"verificationScore"`
	ReviewScore       int `json:"reviewScore"`

	CurrentPatchSet PatchSet   `json:"currentPatchSet"`
	PatchSets       []PatchSet `json:"patchSets,omitempty"`
}

// IsMerged reports whether the change status is MERGED, ignoring case
func (c *Change) IsMerged() bool {
	return strings.EqualFold(string(c.Status), string(StatusMerged))
}

// LastRevision is the commit id of the current patch set
func (c *Change) LastRevision() string {
	return c.CurrentPatchSet.Revision
}

// LastPatchSetNumber is the number of the current patch set
func (c *Change) LastPatchSetNumber() int {
	return c.CurrentPatchSet.Number
}

// NeedsVerification is true while the Verified sum on the current patch set is below +1
func (c *Change) NeedsVerification() bool {
	return c.VerificationScore < 1
}

// PatchSet is one revision of a change
type PatchSet struct {
	Number     int         `json:"number"`
	Revision   string      `json:"revision"`
	Ref        string      `json:"ref"`
	Parents    []string    `json:"parents,omitempty"`
	Uploader   Account     `json:"uploader"`
	Author     Account     `json:"author"`
	CreatedOn  time.Time   `json:"createdOn"`
	Kind       string      `json:"kind,omitempty"`
	Insertions int         `json:"sizeInsertions,omitempty"`
	Deletions  int         `json:"sizeDeletions,omitempty"`
	Approvals  []Approval  `json:"approvals,omitempty"`
	Files      []FileEntry `json:"files,omitempty"`
}

// ApprovalsOfType returns the approvals with the given label code
func (p *PatchSet) ApprovalsOfType(code string) []Approval {
	var out []Approval
	for _, a := range p.Approvals {
		if a.Type == code {
			out = append(out, a)
		}
	}
	return out
}

// Approval is one scored label on a patch set
type Approval struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Value       int       `json:"value"`
	GrantedOn   time.Time `json:"grantedOn"`
	By          Account   `json:"by"`
}

// FileEntry is one file touched by a patch set
type FileEntry struct {
	Path       string `json:"file"`
	ChangeType string `json:"type"` // A, M, D, R, C, W
	Insertions int    `json:"insertions,omitempty"`
	Deletions  int    `json:"deletions,omitempty"`
}

// SortByLastUpdate orders changes oldest first
func SortByLastUpdate(changes []*Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].LastUpdate.Before(changes[j].LastUpdate)
	})
}
