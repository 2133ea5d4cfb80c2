package gerrit

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapChange_Fields(t *testing.T) {
	line := `{"project":"tools/ci","branch":"main","id":"I0123456789abcdef0123456789abcdef01234567","number":"4711",` +
		`"subject":"Fix flaky test","owner":{"name":"Bob","email":"bob@example.com"},"url":"https://g/4711",` +
		`"createdOn":1700000000,"lastUpdated":1700000500,"open":true,"status":"new",` +
		`"currentPatchSet":{"number":"2","revision":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","ref":"refs/changes/11/4711/2",` +
		`"uploader":{"name":"Bob"},"createdOn":1700000400,` +
		`"approvals":[{"type":"Verified","value":"1","grantedOn":1700000450,"by":{"name":"CI"}}],` +
		`"files":[{"file":"a.go","type":"DELETED"},{"file":"b.go","type":"R"}]}}`

	c, err := MapChange(mustRecord(line))
	require.NoError(t, err)

	want := &Change{
		Project:           "tools/ci",
		Branch:            "main",
		ID:                "I0123456789abcdef0123456789abcdef01234567",
		Number:            4711,
		Subject:           "Fix flaky test",
		Owner:             Account{Name: "Bob", Email: "bob@example.com"},
		URL:               "https://g/4711",
		CreatedOn:         time.UnixMilli(1700000000 * 1000),
		LastUpdate:        time.UnixMilli(1700000500 * 1000),
		Open:              true,
		Status:            StatusNew,
		VerificationScore: 1,
		CurrentPatchSet: PatchSet{
			Number:    2,
			Revision:  "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			Ref:       "refs/changes/11/4711/2",
			Uploader:  Account{Name: "Bob"},
			CreatedOn: time.UnixMilli(1700000400 * 1000),
			Approvals: []Approval{{
				Type:      LabelVerified,
				Value:     1,
				GrantedOn: time.UnixMilli(1700000450 * 1000),
				By:        Account{Name: "CI"},
			}},
			Files: []FileEntry{
				{Path: "a.go", ChangeType: "D"},
				{Path: "b.go", ChangeType: "R"},
			},
		},
	}

	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("MapChange() mismatch (-want +got):\n%s", diff)
	}
}

func TestMapChange_LastRevisionMatchesWire(t *testing.T) {
	for _, f := range []fixture{{number: 1}, {number: 22, patchSet: 3}, {number: 333, patchSet: 7}} {
		c, err := MapChange(mustRecord(f.line()))
		require.NoError(t, err)
		assert.Equal(t, revision(f.number, f.patchSet), c.LastRevision())
		assert.Equal(t, f.patchSet, c.LastPatchSetNumber())
		assert.Len(t, c.PatchSets, f.patchSet)
	}
}

func TestMapChange_ScoresSumCurrentPatchSet(t *testing.T) {
	tests := []struct {
		name      string
		f         fixture
		wantVerif int
		wantRev   int
	}{
		{"no approvals", fixture{number: 1}, 0, 0},
		{"single verified", fixture{number: 2, verified: []int{1}}, 1, 0},
		{"mixed verified", fixture{number: 3, verified: []int{1, -1, 1}}, 1, 0},
		{"review only", fixture{number: 4, reviewed: []int{2, 1}}, 0, 3},
		{"both", fixture{number: 5, verified: []int{-1}, reviewed: []int{-2}}, -1, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := MapChange(mustRecord(tt.f.line()))
			require.NoError(t, err)
			assert.Equal(t, tt.wantVerif, c.VerificationScore)
			assert.Equal(t, tt.wantRev, c.ReviewScore)
		})
	}
}

func TestMapChange_HistoricalApprovalsIgnored(t *testing.T) {
	f := fixture{number: 9, patchSet: 2, oldVerified: []int{-1}, verified: []int{1}}

	c, err := MapChange(mustRecord(f.line()))
	require.NoError(t, err)

	assert.Equal(t, 1, c.VerificationScore)
	require.Len(t, c.PatchSets, 2)
	old := c.PatchSets[0].ApprovalsOfType(LabelVerified)
	require.Len(t, old, 1)
	assert.Equal(t, -1, old[0].Value)
}

func TestMapChange_RequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		field string
	}{
		{"no project key", `{"id":"I1","currentPatchSet":{"revision":"r"}}`, "project"},
		{"empty project", `{"project":"","id":"I1","currentPatchSet":{"revision":"r"}}`, "project"},
		{"no id", `{"project":"p","currentPatchSet":{"revision":"r"}}`, "id"},
		{"no current patch set", `{"project":"p","id":"I1"}`, "currentPatchSet"},
		{"no revision", `{"project":"p","id":"I1","currentPatchSet":{"number":1}}`, "currentPatchSet.revision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapChange(mustRecord(tt.line))
			var pe *ProtocolError
			require.True(t, errors.As(err, &pe), "expected ProtocolError, got %v", err)
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, 1, pe.Line)
		})
	}
}

func TestMapChange_OptionalFieldsMissing(t *testing.T) {
	line := `{"project":"p","id":"I1","currentPatchSet":{"revision":"r",` +
		`"approvals":[{"type":"VRIF","value":-1},{"type":"CRVW","value":"2","by":{"name":"x"}}]}}`

	c, err := MapChange(mustRecord(line))
	require.NoError(t, err)

	assert.Equal(t, -1, c.VerificationScore)
	assert.Equal(t, 2, c.ReviewScore)
	assert.True(t, c.CreatedOn.IsZero())
	assert.Empty(t, c.Owner.Email)
	assert.Empty(t, c.CurrentPatchSet.Approvals[0].Description)
	assert.Empty(t, c.CurrentPatchSet.Approvals[1].By.Email)
	assert.Nil(t, c.PatchSets)
}

func TestMapChange_InvalidFieldType(t *testing.T) {
	_, err := MapChange(mustRecord(`{"project":"p","id":"I1","open":"yes","currentPatchSet":{"revision":"r"}}`))
	assert.True(t, IsProtocolError(err))
}

func TestMapChange_TimestampsAreWholeSeconds(t *testing.T) {
	c, err := MapChange(mustRecord(fixture{number: 5, lastUpdated: 1712345678}.line()))
	require.NoError(t, err)

	assert.Equal(t, int64(1712345678000), c.LastUpdate.UnixMilli())
	assert.Zero(t, c.LastUpdate.Nanosecond())
}

func TestChange_IsMerged(t *testing.T) {
	for status, want := range map[ChangeStatus]bool{"MERGED": true, "merged": true, "Merged": true, "NEW": false, "ABANDONED": false} {
		c := &Change{Status: status}
		assert.Equal(t, want, c.IsMerged(), "status %s", status)
	}
}

func TestIsChangeID(t *testing.T) {
	assert.True(t, IsChangeID(changeID(42)))
	assert.True(t, IsChangeID("I0123456789ABCDEF0123456789abcdef01234567"))
	assert.False(t, IsChangeID("12345"))
	assert.False(t, IsChangeID("I0123"))
	assert.False(t, IsChangeID("J0123456789abcdef0123456789abcdef01234567"))
}

func TestSortByLastUpdate(t *testing.T) {
	base := time.Unix(1700000000, 0)
	changes := []*Change{
		{Number: 3, LastUpdate: base.Add(3 * time.Second)},
		{Number: 1, LastUpdate: base.Add(1 * time.Second)},
		{Number: 2, LastUpdate: base.Add(2 * time.Second)},
	}

	SortByLastUpdate(changes)

	assert.Equal(t, []int{1, 2, 3}, []int{changes[0].Number, changes[1].Number, changes[2].Number})
}
