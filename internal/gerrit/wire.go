package gerrit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RawRecord is one JSON object line of `gerrit query` output. Data records carry a
// "project" key; the trailing statistics record carries "rowCount" and no "project".
type RawRecord struct {
	Line   int
	Raw    json.RawMessage
	fields map[string]json.RawMessage
}

// ParseRecord decodes one output line. Anything that is not a JSON object is a ProtocolError.
func ParseRecord(line []byte, lineNo int) (RawRecord, error) {
	raw := make([]byte, len(line))
	copy(raw, line)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return RawRecord{}, &ProtocolError{Line: lineNo, Reason: "malformed JSON line", Err: err}
	}
	if fields == nil {
		return RawRecord{}, &ProtocolError{Line: lineNo, Reason: "expected JSON object, got null"}
	}

	return RawRecord{Line: lineNo, Raw: raw, fields: fields}, nil
}

// Has reports whether the record carries the given top-level key
func (r RawRecord) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// HasProject reports whether this record describes a change
func (r RawRecord) HasProject() bool {
	return r.Has("project")
}

// IsTrailer reports whether this is the statistics record that ends a query response
func (r RawRecord) IsTrailer() bool {
	return !r.HasProject() && r.Has("rowCount")
}

// RowCount returns the trailer's row count
func (r RawRecord) RowCount() (int, bool) {
	raw, ok := r.fields["rowCount"]
	if !ok {
		return 0, false
	}
	var n flexInt
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return int(n), true
}

// Type returns the record's "type" discriminator, if any ("stats", "error")
func (r RawRecord) Type() string {
	raw, ok := r.fields["type"]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

// IsError reports whether Gerrit answered with an error record instead of results
func (r RawRecord) IsError() bool {
	return !r.HasProject() && r.Type() == "error"
}

// ErrorMessage returns the message of an error record
func (r RawRecord) ErrorMessage() string {
	var s string
	if raw, ok := r.fields["message"]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// flexInt accepts both 5 and "5". Gerrit emits approval values, and on older
// releases change numbers, as strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*n = flexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

type wireAccount struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type wireApproval struct {
	Type        string       `json:"type"`
	Description string       `json:"description"`
	Value       flexInt      `json:"value"`
	GrantedOn   int64        `json:"grantedOn"`
	By          *wireAccount `json:"by"`
}

type wireFile struct {
	File       string `json:"file"`
	Type       string `json:"type"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

type wirePatchSet struct {
	Number         flexInt        `json:"number"`
	Revision       string         `json:"revision"`
	Parents        []string       `json:"parents"`
	Ref            string         `json:"ref"`
	Uploader       *wireAccount   `json:"uploader"`
	Author         *wireAccount   `json:"author"`
	CreatedOn      int64          `json:"createdOn"`
	Kind           string         `json:"kind"`
	SizeInsertions int            `json:"sizeInsertions"`
	SizeDeletions  int            `json:"sizeDeletions"`
	Approvals      []wireApproval `json:"approvals"`
	Files          []wireFile     `json:"files"`
}

type wireChange struct {
	Project         string         `json:"project"`
	Branch          string         `json:"branch"`
	ID              string         `json:"id"`
	Number          flexInt        `json:"number"`
	Subject         string         `json:"subject"`
	Topic           string         `json:"topic"`
	CommitMessage   string         `json:"commitMessage"`
	Owner           *wireAccount   `json:"owner"`
	URL             string         `json:"url"`
	CreatedOn       int64          `json:"createdOn"`
	LastUpdated     int64          `json:"lastUpdated"`
	Open            bool           `json:"open"`
	WIP             bool           `json:"wip"`
	Status          string         `json:"status"`
	CurrentPatchSet *wirePatchSet  `json:"currentPatchSet"`
	PatchSets       []wirePatchSet `json:"patchSets"`
}
