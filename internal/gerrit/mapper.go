package gerrit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Long label names used by newer Gerrit releases in approvals[].type
var labelAliases = map[string]string{
	"verified":    LabelVerified,
	"code-review": LabelCodeReview,
}

var fileTypeCodes = map[string]string{
	"ADDED":    "A",
	"MODIFIED": "M",
	"DELETED":  "D",
	"RENAMED":  "R",
	"COPIED":   "C",
	"REWRITE":  "W",
}

// MapChange converts one change record into a Change.
//
// The record must carry a "project" key; trailer records are the caller's to skip.
// id, project, currentPatchSet and currentPatchSet.revision are required, everything
// else is optional. Verification and review scores are summed over the approvals of
// the current patch set only.
func MapChange(rec RawRecord) (*Change, error) {
	if !rec.HasProject() {
		return nil, lineErr(missingField("project"), rec.Line)
	}

	var w wireChange
	if err := json.Unmarshal(rec.Raw, &w); err != nil {
		return nil, &ProtocolError{Line: rec.Line, Reason: "invalid change record", Err: err}
	}

	switch {
	case w.Project == "":
		return nil, lineErr(missingField("project"), rec.Line)
	case w.ID == "":
		return nil, lineErr(missingField("id"), rec.Line)
	case w.CurrentPatchSet == nil:
		return nil, lineErr(missingField("currentPatchSet"), rec.Line)
	case w.CurrentPatchSet.Revision == "":
		return nil, lineErr(missingField("currentPatchSet.revision"), rec.Line)
	}

	c := &Change{
		Project:       w.Project,
		Branch:        w.Branch,
		ID:            w.ID,
		Number:        int(w.Number),
		Subject:       w.Subject,
		Topic:         w.Topic,
		CommitMessage: w.CommitMessage,
		Owner:         mapAccount(w.Owner),
		URL:           w.URL,
		CreatedOn:     fromEpochSeconds(w.CreatedOn),
		LastUpdate:    fromEpochSeconds(w.LastUpdated),
		Open:          w.Open,
		WIP:           w.WIP,
		Status:        ChangeStatus(strings.ToUpper(w.Status)),
	}

	c.CurrentPatchSet = mapPatchSet(c, w.CurrentPatchSet, true)

	if len(w.PatchSets) > 0 {
		c.PatchSets = make([]PatchSet, 0, len(w.PatchSets))
		for i := range w.PatchSets {
			c.PatchSets = append(c.PatchSets, mapPatchSet(c, &w.PatchSets[i], false))
		}
	}

	return c, nil
}

func lineErr(err *ProtocolError, line int) *ProtocolError {
	err.Line = line
	return err
}

// mapPatchSet maps one patch set; approvals count towards the change's scores only
// when isCurrent is set.
func mapPatchSet(c *Change, w *wirePatchSet, isCurrent bool) PatchSet {
	ps := PatchSet{
		Number:     int(w.Number),
		Revision:   w.Revision,
		Ref:        w.Ref,
		Parents:    w.Parents,
		Uploader:   mapAccount(w.Uploader),
		Author:     mapAccount(w.Author),
		CreatedOn:  fromEpochSeconds(w.CreatedOn),
		Kind:       w.Kind,
		Insertions: w.SizeInsertions,
		Deletions:  w.SizeDeletions,
	}

	for _, wa := range w.Approvals {
		a := Approval{
			Type:        normalizeLabel(wa.Type),
			Description: wa.Description,
			Value:       int(wa.Value),
			GrantedOn:   fromEpochSeconds(wa.GrantedOn),
			By:          mapAccount(wa.By),
		}
		ps.Approvals = append(ps.Approvals, a)

		if !isCurrent {
			continue
		}
		switch a.Type {
		case LabelVerified:
			c.VerificationScore += a.Value
		case LabelCodeReview:
			c.ReviewScore += a.Value
		}
	}

	for _, wf := range w.Files {
		ps.Files = append(ps.Files, FileEntry{
			Path:       wf.File,
			ChangeType: fileTypeCode(wf.Type),
			Insertions: wf.Insertions,
			Deletions:  wf.Deletions,
		})
	}

	return ps
}

func mapAccount(w *wireAccount) Account {
	if w == nil {
		return Account{}
	}
	return Account{Name: w.Name, Email: w.Email, Username: w.Username}
}

func normalizeLabel(t string) string {
	if code, ok := labelAliases[strings.ToLower(t)]; ok {
		return code
	}
	return t
}

func fileTypeCode(t string) string {
	if code, ok := fileTypeCodes[strings.ToUpper(t)]; ok {
		return code
	}
	return t
}

// fromEpochSeconds converts a wire timestamp (whole seconds) to a time value
func fromEpochSeconds(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.UnixMilli(sec * 1000)
}

// String is a one-line summary used in build logs
func (c *Change) String() string {
	return fmt.Sprintf("%s %d,%d %q (%s)", c.Project, c.Number, c.CurrentPatchSet.Number, c.Subject, c.ID)
}
